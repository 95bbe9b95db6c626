package worker

import (
	"log"
	"sync"

	"github.com/sebastianknopf/avl2gtfsrt/business/iom/vdv435"
)

const (
	//defaultWorkerCount bounds the number of concurrently processed vehicles
	defaultWorkerCount = 10
	//vehicleQueueCap bounds the backlog per vehicle
	vehicleQueueCap = 100
)

// MessageHandler processes one inbound bus message for a vehicle
type MessageHandler func(topic string, msg vdv435.Message)

type queuedMessage struct {
	vehicleRef string
	topic      string
	msg        vdv435.Message
	//droppable marks messages that may be discarded on queue overflow.
	//Position samples are droppable, log on and log off events are not.
	droppable bool
	//fn is set for synchronously executed requests, done is closed once it ran
	fn   func()
	done chan struct{}
}

// Dispatcher serializes message processing per vehicle on top of a shared
// bounded worker pool. Messages of one vehicle run strictly in FIFO order,
// messages of different vehicles run concurrently.
type Dispatcher struct {
	log     *log.Logger
	handler MessageHandler

	mu     sync.Mutex
	locks  map[string]bool
	queues map[string][]queuedMessage
	closed bool

	tasks   chan queuedMessage
	pending sync.WaitGroup
	workers sync.WaitGroup
}

// NewDispatcher creates a Dispatcher with workerCount pool workers, falling
// back to the default pool size for values below one
func NewDispatcher(log *log.Logger, handler MessageHandler, workerCount int) *Dispatcher {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	d := &Dispatcher{
		log:     log,
		handler: handler,
		locks:   make(map[string]bool),
		queues:  make(map[string][]queuedMessage),
		tasks:   make(chan queuedMessage),
	}

	d.workers.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go d.work()
	}
	return d
}

// Register announces a vehicle to the dispatcher, called on technical log on
func (d *Dispatcher) Register(vehicleRef string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, known := d.locks[vehicleRef]; !known {
		d.locks[vehicleRef] = false
	}
	if _, known := d.queues[vehicleRef]; !known {
		d.queues[vehicleRef] = nil
	}
}

// Reset drops the droppable backlog of a vehicle, called on technical log
// off. Queued requests survive so their callers are always answered.
func (d *Dispatcher) Reset(vehicleRef string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	queue := d.queues[vehicleRef]
	if len(queue) == 0 {
		return
	}
	kept := queue[:0]
	for _, qm := range queue {
		if !qm.droppable {
			kept = append(kept, qm)
		}
	}
	d.queues[vehicleRef] = kept
}

// Dispatch hands a message to the pool, or enqueues it while another message
// of the same vehicle is still processing. Unknown vehicles are registered on
// the fly. On queue overflow the oldest droppable message is discarded,
// droppable messages are strictly stale by then.
func (d *Dispatcher) Dispatch(vehicleRef string, topic string, msg vdv435.Message, droppable bool) {
	qm := queuedMessage{vehicleRef: vehicleRef, topic: topic, msg: msg, droppable: droppable}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Printf("dispatcher is shut down, discarding message for vehicle %s", vehicleRef)
		return
	}

	if _, known := d.locks[vehicleRef]; !known {
		d.locks[vehicleRef] = false
	}

	if d.locks[vehicleRef] {
		//the vehicle is currently processed, keep FIFO order via its queue
		d.queues[vehicleRef] = d.dropExcess(vehicleRef, append(d.queues[vehicleRef], qm))
		d.mu.Unlock()
		return
	}

	d.locks[vehicleRef] = true
	d.pending.Add(1)
	d.mu.Unlock()

	d.tasks <- qm
}

// Execute runs fn in the vehicle's processing slot, strictly ordered with the
// message backlog, and blocks until fn returned. Request handling goes through
// here so a log on or log off never interleaves with an in flight position
// handler of the same vehicle.
func (d *Dispatcher) Execute(vehicleRef string, fn func()) {
	qm := queuedMessage{vehicleRef: vehicleRef, fn: fn, done: make(chan struct{})}

	d.mu.Lock()
	if d.closed {
		//requests arriving during shutdown still get their answer
		d.mu.Unlock()
		fn()
		return
	}

	if _, known := d.locks[vehicleRef]; !known {
		d.locks[vehicleRef] = false
	}

	if d.locks[vehicleRef] {
		d.queues[vehicleRef] = d.dropExcess(vehicleRef, append(d.queues[vehicleRef], qm))
		d.mu.Unlock()
		<-qm.done
		return
	}

	d.locks[vehicleRef] = true
	d.pending.Add(1)
	d.mu.Unlock()

	d.tasks <- qm
	<-qm.done
}

// Stop rejects further messages, waits for all queued messages to finish and
// tears the pool down
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	d.pending.Wait()
	close(d.tasks)
	d.workers.Wait()
}

//dropExcess trims the backlog to the queue cap by discarding the oldest
//droppable entries. Log on and log off messages survive unconditionally, so a
//backlog of only those may exceed the cap.
func (d *Dispatcher) dropExcess(vehicleRef string, queue []queuedMessage) []queuedMessage {
	for len(queue) > vehicleQueueCap {
		dropped := false
		for i := range queue {
			if queue[i].droppable {
				d.log.Printf("queue overflow for vehicle %s, discarding oldest position message", vehicleRef)
				queue = append(queue[:i], queue[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			d.log.Printf("queue overflow for vehicle %s, backlog holds no droppable messages", vehicleRef)
			break
		}
	}
	return queue
}

func (d *Dispatcher) work() {
	defer d.workers.Done()
	for qm := range d.tasks {
		d.run(qm)
	}
}

//run processes a message and drains the backlog of its vehicle before
//releasing the vehicle lock
func (d *Dispatcher) run(qm queuedMessage) {
	defer d.pending.Done()

	for {
		d.invoke(qm)

		d.mu.Lock()
		if queue := d.queues[qm.vehicleRef]; len(queue) > 0 {
			next := queue[0]
			d.queues[qm.vehicleRef] = queue[1:]
			d.mu.Unlock()
			qm = next
			continue
		}
		d.locks[qm.vehicleRef] = false
		d.mu.Unlock()
		return
	}
}

//invoke runs the handler or the executed fn, containing panics so the vehicle
//lock is always released and waiting Execute callers always return
func (d *Dispatcher) invoke(qm queuedMessage) {
	if qm.done != nil {
		defer close(qm.done)
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Printf("panic processing message for vehicle %s: %v", qm.vehicleRef, r)
		}
	}()
	if qm.fn != nil {
		qm.fn()
		return
	}
	d.handler(qm.topic, qm.msg)
}
