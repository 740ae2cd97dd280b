// Package trace records the critical section events of a ring run as JSON
// lines and verifies recorded runs against the mutual exclusion invariants.
package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"pucrs/tokenring/common"

	uuid "github.com/satori/go.uuid"
	"github.com/sirupsen/logrus"
)

// Recorder appends entry and exit events to a dump file. Every event is
// tagged with the id of the run that produced it.
type Recorder struct {
	run  uuid.UUID
	path string

	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
}

func NewRecorder(path string) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("trace.NewRecorder: failed opening '%s' file: %w", path, err)
	}
	return &Recorder{
		run:  uuid.NewV4(),
		path: path,
		file: file,
		enc:  json.NewEncoder(file),
	}, nil
}

func (r *Recorder) RunID() string { return r.run.String() }

func (r *Recorder) Path() string { return r.path }

// Record has the signature of a process hook. Token forwards are not dumped.
func (r *Recorder) Record(ev common.Event) {
	if ev.Kind == common.EventForward {
		return
	}
	ev.Run = r.run.String()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return
	}
	if err := r.enc.Encode(ev); err != nil {
		logrus.Errorf("trace.Record: failed writing to '%s' file: %v", r.path, err)
	}
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
