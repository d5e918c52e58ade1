// Package adapter is the host side of the tuner abstraction: the adapter
// registry, the per-adapter Device contract and the HTTP server that streams
// the transport stream of an adapter to clients.
package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	StreamPath = "/stream/"
	StatusPath = "/status"

	readBufferSize = 64 * 188
	readTimeout    = 200 * time.Millisecond
	drainTimeout   = 20 * time.Millisecond
)

// Listen starts the HTTP server on the given address. The server stops when
// done is closed or Close is called.
func Listen(localAddress string, registry *Registry, done <-chan struct{}, log logrus.FieldLogger) (*Server, error) {
	listener, err := net.Listen("tcp", localAddress)
	if err != nil {
		return nil, fmt.Errorf("cannot open local port %s: %w", localAddress, err)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}

	result := &Server{
		listener: listener,
		registry: registry,
		closed:   make(chan struct{}),
		log:      log.WithField("component", "server"),
	}
	result.http = &http.Server{Handler: result.Handler()}

	go result.run()
	go func() {
		select {
		case <-done:
		case <-result.closed:
		}
		result.Close()
	}()

	return result, nil
}

type Server struct {
	listener  net.Listener
	http      *http.Server
	registry  *Registry
	closed    chan struct{}
	closeOnce sync.Once
	log       *logrus.Entry
}

func (s *Server) run() {
	s.log.Infof("listening on %s", s.listener.Addr())
	err := s.http.Serve(s.listener)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Error(err)
	}
	s.Close()
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

func (s *Server) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := s.http.Shutdown(ctx); err != nil {
			s.http.Close()
		}
	})
}

func (s *Server) Wait() {
	<-s.closed
}

// Handler returns the HTTP handler of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(StreamPath, s.streamHandler)
	mux.HandleFunc(StatusPath, s.statusHandler)
	return mux
}

type adapterInfo struct {
	ID      int            `json:"id"`
	Name    string         `json:"name"`
	Systems []string       `json:"systems"`
	InUse   bool           `json:"inUse"`
	Status  StatusSnapshot `json:"status"`
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	present := s.registry.Present()
	result := make([]adapterInfo, 0, len(present))
	for _, a := range present {
		info := adapterInfo{
			ID:     a.ID,
			Name:   a.Name,
			InUse:  a.InUse(),
			Status: a.Status.Snapshot(),
		}
		for _, system := range a.Systems {
			info.Systems = append(info.Systems, system.String())
		}
		result = append(result, info)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		s.log.Errorf("cannot write status: %v", err)
	}
}

func (s *Server) streamHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := strconv.Atoi(strings.Trim(strings.TrimPrefix(r.URL.Path, StreamPath), "/"))
	if err != nil {
		http.Error(w, "invalid adapter id", http.StatusNotFound)
		return
	}
	a, ok := s.registry.Get(id)
	if !ok || !a.Present {
		http.Error(w, "unknown adapter", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	tp, err := ParseTransponder(query)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if !a.Supports(tp.System) {
		http.Error(w, fmt.Sprintf("adapter %d does not support %s", a.ID, tp.System), http.StatusBadRequest)
		return
	}
	pids, err := ParsePIDs(query.Get("pids"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !a.Acquire() {
		http.Error(w, "adapter in use", http.StatusTooManyRequests)
		return
	}
	defer a.Release()

	log := s.log.WithFields(logrus.Fields{
		"adapter": a.ID,
		"request": uuid.New().String(),
		"remote":  r.RemoteAddr,
	})

	drain(a.DVR)
	if err := a.Device.Open(); err != nil {
		log.Errorf("cannot open adapter: %v", err)
		http.Error(w, "cannot open adapter", http.StatusServiceUnavailable)
		return
	}
	defer func() {
		if err := a.Device.Close(); err != nil {
			log.Warnf("closing adapter failed: %v", err)
		}
	}()

	if err := a.Device.Tune(tp); err != nil {
		log.Errorf("cannot tune to %s: %v", tp, err)
		http.Error(w, "cannot tune", http.StatusServiceUnavailable)
		return
	}
	for _, pid := range pids {
		if _, err := a.Device.SetPID(pid); err != nil {
			log.Warnf("pid %d not added: %v", pid, err)
		}
	}
	a.Device.Commit()

	log.Infof("streaming %s, pids %v", tp, pids)
	w.Header().Set("Content-Type", "video/mp2t")
	w.WriteHeader(http.StatusOK)

	counter, err := s.stream(r.Context(), w, a.DVR)
	if err != nil {
		log.Debugf("stream ended: %v", err)
	}
	log.WithFields(logrus.Fields{
		"bytes":    counter.Bytes(),
		"packets":  counter.Total(),
		"ccErrors": counter.ContinuityErrors(),
	}).Info("stream finished")
}

func (s *Server) stream(ctx context.Context, w io.Writer, dvr *os.File) (*PacketCounter, error) {
	counter := NewPacketCounter()
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, readBufferSize)
	for {
		select {
		case <-ctx.Done():
			return counter, ctx.Err()
		case <-s.closed:
			return counter, nil
		default:
		}

		if err := dvr.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			return counter, err
		}
		n, err := dvr.Read(buf)
		if n > 0 {
			counter.Write(buf[:n])
			if _, werr := w.Write(buf[:n]); werr != nil {
				return counter, werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(err, os.ErrDeadlineExceeded) {
			continue
		}
		if err != nil {
			return counter, err
		}
	}
}

// drain discards stale bytes left in the pipe from a previous stream.
func drain(dvr *os.File) {
	if dvr == nil {
		return
	}
	if err := dvr.SetReadDeadline(time.Now().Add(drainTimeout)); err != nil {
		return
	}
	buf := make([]byte, readBufferSize)
	for {
		if _, err := dvr.Read(buf); err != nil {
			return
		}
	}
}
