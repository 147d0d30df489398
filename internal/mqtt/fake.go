package mqtt

import (
	"sync"

	"github.com/sweeney/evse-monitor/internal/logic"
)

// FakePublisher records everything handed to it, along with the payload
// each call would have put on the wire. Read the fields only after the
// code under test has stopped publishing.
type FakePublisher struct {
	mu sync.Mutex

	Events   []logic.Event
	Payloads [][]byte

	SelfTests        []SelfTestEvent
	SelfTestPayloads [][]byte

	SystemEvents   []SystemEvent
	SystemPayloads [][]byte

	// PublishError fails Publish and PublishSelfTest; PublishSystemError
	// fails PublishSystem. Nothing is recorded for a failed call.
	PublishError       error
	PublishSystemError error

	Closed    bool
	Connected bool
}

func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// record formats v and appends it with its payload unless fail is set.
func record[T any](mu *sync.Mutex, fail error, v T, format func(T) ([]byte, error), values *[]T, payloads *[][]byte) error {
	mu.Lock()
	defer mu.Unlock()
	if fail != nil {
		return fail
	}
	payload, err := format(v)
	if err != nil {
		return err
	}
	*values = append(*values, v)
	*payloads = append(*payloads, payload)
	return nil
}

func (f *FakePublisher) Publish(event logic.Event) error {
	return record(&f.mu, f.PublishError, event, FormatPayload, &f.Events, &f.Payloads)
}

func (f *FakePublisher) PublishSelfTest(event SelfTestEvent) error {
	return record(&f.mu, f.PublishError, event, FormatSelfTestPayload, &f.SelfTests, &f.SelfTestPayloads)
}

func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	return record(&f.mu, f.PublishSystemError, event, FormatSystemPayload, &f.SystemEvents, &f.SystemPayloads)
}

func (f *FakePublisher) Close() error {
	f.mu.Lock()
	f.Closed = true
	f.mu.Unlock()
	return nil
}

func (f *FakePublisher) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Connected
}

// Reset forgets everything recorded and clears injected errors.
func (f *FakePublisher) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events, f.Payloads = nil, nil
	f.SelfTests, f.SelfTestPayloads = nil, nil
	f.SystemEvents, f.SystemPayloads = nil, nil
	f.PublishError, f.PublishSystemError = nil, nil
	f.Closed, f.Connected = false, false
}
