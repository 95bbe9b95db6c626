// Package feedserver serves the assembled GTFS-Realtime feeds over HTTP.
package feedserver

import (
	"context"
	logger "log"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	gtfsproto "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/gorilla/mux"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/sebastianknopf/avl2gtfsrt/business/gtfsrt"
)

//defaultHttpHandler simple default http handler for default route
type defaultHttpHandler struct {
}

//ServeHTTP implements defaultHttpHandler http.Handler interface
func (h *defaultHttpHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	w.Header().Add("Application-Status", "OK")
}

//feedHandler responds to one feed endpoint with the full dataset feed built
//by the assembler function
type feedHandler struct {
	log   *logger.Logger
	build func() (*gtfsproto.FeedMessage, error)
}

func makeFeedHandler(log *logger.Logger, build func() (*gtfsproto.FeedMessage, error)) *feedHandler {
	return &feedHandler{
		log:   log,
		build: build,
	}
}

//ServeHTTP implements feedHandler's http.Handler interface. The feed is
//served as protocol buffer, or as json when the debug query parameter is
//present.
func (f *feedHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET")

	feedMessage, err := f.build()
	if err != nil {
		f.log.Printf("failed to build feed message, error:%s", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}

	if r.URL.Query().Has("debug") {
		f.serveJSON(feedMessage, w)
	} else {
		f.serveProtocolBuffer(feedMessage, w)
	}
}

//serveProtocolBuffer marshals the feed message as protocol buffer to http.ResponseWriter
func (f *feedHandler) serveProtocolBuffer(feedMessage *gtfsproto.FeedMessage, w http.ResponseWriter) {
	bytes, err := proto.Marshal(feedMessage)
	if err != nil {
		f.log.Printf("failed to marshal feed message to bytes, error:%s", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	bytesWritten, err := w.Write(bytes)
	if err != nil {
		f.log.Printf("error writing bytes to http.ResponseWriter, error:%s", err)
		return
	}
	f.log.Printf("wrote %d bytes for feed", bytesWritten)
}

//serveJSON writes the protojson rendering of the feed message, used for
//debugging feeds in the browser
func (f *feedHandler) serveJSON(feedMessage *gtfsproto.FeedMessage, w http.ResponseWriter) {
	jsonData, err := protojson.MarshalOptions{Multiline: true}.Marshal(feedMessage)
	if err != nil {
		f.log.Printf("error marshaling feed message to json: error:%v\n", err)
		http.Error(w, "Error serving request", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	byteCount, err := w.Write(jsonData)
	if err != nil {
		f.log.Printf("error writing json response: %s", err)
		return
	}
	f.log.Printf("wrote %d bytes in json response", byteCount)
}

//createServer creates configured http.Server serving both feed endpoints
func createServer(log *logger.Logger, assembler *gtfsrt.Assembler, httpPort int) *http.Server {
	r := mux.NewRouter()
	r.Handle("/", &defaultHttpHandler{})
	r.Handle("/vehicle-positions.pbf", makeFeedHandler(log, assembler.FullVehiclePositions)).Methods(http.MethodGet)
	r.Handle("/trip-updates.pbf", makeFeedHandler(log, assembler.FullTripUpdates)).Methods(http.MethodGet)
	srv := &http.Server{
		Addr: strings.Join([]string{"0.0.0.0", strconv.Itoa(httpPort)}, ":"),
		// Good practice to set timeouts to avoid Slowloris attacks.
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}
	return srv
}

// RunWebService starts up the feed web service and terminates on shutdown signal
func RunWebService(log *logger.Logger,
	wg *sync.WaitGroup,
	assembler *gtfsrt.Assembler,
	httpPort int,
	shutdownSignal chan bool,
) {
	wg.Add(1)
	defer wg.Done()
	srv := createServer(log, assembler, httpPort)
	log.Printf("Starting server on port %d", httpPort)
	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Printf("server ListenAndServe ended. %s", err)
		}
	}()
	shutdownCtx, serverCancelFunc := context.WithTimeout(context.Background(), time.Duration(5)*time.Second)
	defer serverCancelFunc()

	<-shutdownSignal
	log.Printf("ending webservice on shutdown signal")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("error shutting down webservice, error:%s", err)
	}
}
