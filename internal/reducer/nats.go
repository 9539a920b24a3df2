package reducer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATS implements Reducer as a bulk-synchronous collective over a
// NATS subject: every participant publishes its local contribution to
// Subject; the accumulator (run by exactly one participant, the
// "root", per epoch) sums WorldSize contributions and republishes the
// total to Subject+".result", which every participant — including the
// root — subscribes to. This models the AllReduce-style collective the
// design calls for without requiring an MPI binding.
type NATS[T Numeric] struct {
	conn      *nats.Conn
	subject   string
	worldSize int
	isRoot    bool
	logger    zerolog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	previous []T
	epoch    int
	ready    bool

	// root-only accumulator state
	accMu   sync.Mutex
	acc     []T
	accN    int
	accSize int

	sub     *nats.Subscription
	sumSub  *nats.Subscription
	closeCh chan struct{}
}

type natsVector[T Numeric] struct {
	Epoch int `json:"epoch"`
	Vec   []T `json:"vec"`
}

// NewNATS connects to url and wires the subject's contribution and
// result subscriptions. worldSize is the number of participants
// expected to Submit each epoch; isRoot designates the single process
// responsible for accumulating and republishing the sum. initialGuess
// seeds the value returned before the first epoch settles.
func NewNATS[T Numeric](url, subject string, worldSize int, isRoot bool, initialGuess []T, logger zerolog.Logger) (*NATS[T], error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("reducer: connect nats: %w", err)
	}

	r := &NATS[T]{
		conn:      conn,
		subject:   subject,
		worldSize: worldSize,
		isRoot:    isRoot,
		logger:    logger,
		previous:  append([]T(nil), initialGuess...),
		ready:     false,
		closeCh:   make(chan struct{}),
	}
	r.cond = sync.NewCond(&r.mu)

	resultSub, err := conn.Subscribe(subject+".result", r.onResult)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("reducer: subscribe result: %w", err)
	}
	r.sumSub = resultSub

	if isRoot {
		r.accSize = len(initialGuess)
		contribSub, err := conn.Subscribe(subject, r.onContribution)
		if err != nil {
			resultSub.Unsubscribe()
			conn.Close()
			return nil, fmt.Errorf("reducer: subscribe contribution: %w", err)
		}
		r.sub = contribSub
	}

	return r, nil
}

// Close tears down the NATS subscriptions and connection. Transport
// failures surfaced after Close are not retried, matching the
// fail-fast contract for reducer transport errors.
func (r *NATS[T]) Close() {
	close(r.closeCh)
	if r.sub != nil {
		r.sub.Unsubscribe()
	}
	if r.sumSub != nil {
		r.sumSub.Unsubscribe()
	}
	r.conn.Close()
}

// Submit implements Reducer.
func (r *NATS[T]) Submit(local []T) {
	r.mu.Lock()
	epoch := r.epoch
	r.mu.Unlock()

	payload, err := json.Marshal(natsVector[T]{Epoch: epoch, Vec: local})
	if err != nil {
		r.logger.Fatal().Err(err).Msg("reducer: marshal contribution failed")
	}
	if err := r.conn.Publish(r.subject, payload); err != nil {
		r.logger.Fatal().Err(err).Msg("reducer: publish contribution failed")
	}
}

// Get implements Reducer.
func (r *NATS[T]) Get(ctx context.Context, forceBlocking bool) ([]T, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for forceBlocking && !r.ready {
		r.cond.Wait()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}
	return append([]T(nil), r.previous...), nil
}

func (r *NATS[T]) onContribution(msg *nats.Msg) {
	var v natsVector[T]
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		r.logger.Error().Err(err).Msg("reducer: decode contribution failed")
		return
	}

	r.accMu.Lock()
	if r.acc == nil {
		r.acc = make([]T, len(v.Vec))
		r.accSize = len(v.Vec)
	}
	for i := 0; i < r.accSize && i < len(v.Vec); i++ {
		r.acc[i] += v.Vec[i]
	}
	r.accN++
	done := r.accN >= r.worldSize
	var total []T
	if done {
		total = append([]T(nil), r.acc...)
		r.acc = make([]T, r.accSize)
		r.accN = 0
	}
	r.accMu.Unlock()

	if done {
		payload, err := json.Marshal(natsVector[T]{Epoch: v.Epoch, Vec: total})
		if err != nil {
			r.logger.Fatal().Err(err).Msg("reducer: marshal result failed")
			return
		}
		if err := r.conn.Publish(r.subject+".result", payload); err != nil {
			r.logger.Fatal().Err(err).Msg("reducer: publish result failed")
		}
	}
}

func (r *NATS[T]) onResult(msg *nats.Msg) {
	var v natsVector[T]
	if err := json.Unmarshal(msg.Data, &v); err != nil {
		r.logger.Error().Err(err).Msg("reducer: decode result failed")
		return
	}

	r.mu.Lock()
	r.previous = v.Vec
	r.epoch = v.Epoch + 1
	r.ready = true
	r.cond.Broadcast()
	r.mu.Unlock()
}
