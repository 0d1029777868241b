package netchat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/netchat/api"
	"github.com/opd-ai/netchat/control"
	"github.com/opd-ai/netchat/events"
	"github.com/opd-ai/netchat/file"
	"github.com/opd-ai/netchat/mail"
	"github.com/opd-ai/netchat/registry"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultControlAddr is the control channel listening address.
	DefaultControlAddr = ":6000"
	// DefaultFileAddr is the file transfer listening address.
	DefaultFileAddr = ":5001"
	// DefaultAPIAddr is the admin API listening address.
	DefaultAPIAddr = "127.0.0.1:8080"
	// DefaultEventBuffer is the per-subscriber event queue length.
	DefaultEventBuffer = 64
)

var (
	// ErrInvalidOptions is returned by New for options that fail Validate.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrAlreadyRunning is returned by Start on a running server.
	ErrAlreadyRunning = errors.New("server already running")
	// ErrNoServices is returned by Start when no service could be started.
	ErrNoServices = errors.New("no service could be started")
	// ErrStopped is returned by Start after Stop.
	ErrStopped = errors.New("server stopped")
)

// Options contains server configuration.
type Options struct {
	ControlAddr string
	FileAddr    string
	StorageDir  string

	// APIAddr enables the HTTP admin API when non-empty.
	APIAddr    string
	EnableCORS bool

	// IdleTimeout disconnects silent control and file clients. Zero disables it.
	IdleTimeout time.Duration

	// MailDBPath enables the mail store when non-empty.
	MailDBPath string
	// SigningKeyPath, when set with MailDBPath, signs every stored message
	// with the key at this path, generating it on first use.
	SigningKeyPath string
	// SpamThreshold is the spam probability above which mail is flagged.
	SpamThreshold float64

	EventBuffer int
}

// NewOptions creates a new Options with default values.
func NewOptions() *Options {
	return &Options{
		ControlAddr:   DefaultControlAddr,
		FileAddr:      DefaultFileAddr,
		StorageDir:    file.DefaultStorageDir,
		APIAddr:       "", // Disabled by default
		SpamThreshold: mail.DefaultSpamThreshold,
		EventBuffer:   DefaultEventBuffer,
	}
}

// Validate checks the options for obvious mistakes.
func (o *Options) Validate() error {
	if o.ControlAddr == "" && o.FileAddr == "" {
		return fmt.Errorf("%w: at least one of control or file address is required", ErrInvalidOptions)
	}
	if o.FileAddr != "" && o.StorageDir == "" {
		return fmt.Errorf("%w: storage directory is required for the file service", ErrInvalidOptions)
	}
	if o.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle timeout must not be negative", ErrInvalidOptions)
	}
	if o.EventBuffer <= 0 {
		return fmt.Errorf("%w: event buffer must be positive", ErrInvalidOptions)
	}
	if o.SpamThreshold < 0 || o.SpamThreshold > 1 {
		return fmt.Errorf("%w: spam threshold must be within [0, 1]", ErrInvalidOptions)
	}
	if o.SigningKeyPath != "" && o.MailDBPath == "" {
		return fmt.Errorf("%w: signing key requires a mail database", ErrInvalidOptions)
	}
	return nil
}

// service is the lifecycle shared by the control, file and API servers.
type service struct {
	name   string
	addr   string
	listen func() error
	serve  func() error
	close  func() error
	bound  bool
}

// Server wires the control channel, file transfer, mail store and admin API
// around one registry and one event bus.
type Server struct {
	options *Options

	bus      *events.Bus
	registry *registry.Registry
	control  *control.Server
	files    *file.Store
	file     *file.Server
	mail     *mail.Store
	api      *api.Server

	services  []*service
	running   bool
	stopped   bool
	stopAfter func() bool
	wg        sync.WaitGroup
	mu        sync.Mutex
}

// New constructs every configured service without binding any port.
func New(options *Options) (*Server, error) {
	if options == nil {
		options = NewOptions()
	}
	if err := options.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		options: options,
		bus:     events.NewBus(options.EventBuffer),
	}
	s.registry = registry.New(s.bus)

	if options.ControlAddr != "" {
		s.control = control.NewServer(s.registry, s.bus)
		s.control.SetIdleTimeout(options.IdleTimeout)
		s.addService(control.ServiceName, options.ControlAddr,
			func() error { return s.control.Listen(options.ControlAddr) },
			s.control.Serve, s.control.Close)
	}

	if options.FileAddr != "" {
		store, err := file.NewStore(options.StorageDir)
		if err != nil {
			s.bus.Close()
			return nil, err
		}
		s.files = store
		s.file = file.NewServer(store, s.bus)
		s.file.SetIdleTimeout(options.IdleTimeout)
		s.addService(file.ServiceName, options.FileAddr,
			func() error { return s.file.Listen(options.FileAddr) },
			s.file.Serve, s.file.Close)
	}

	if options.MailDBPath != "" {
		if err := s.openMail(); err != nil {
			s.bus.Close()
			return nil, err
		}
	}

	if options.APIAddr != "" {
		config := api.DefaultConfig()
		config.Addr = options.APIAddr
		config.EnableCORS = options.EnableCORS
		s.api = api.NewServer(config, api.Deps{
			Registry: s.registry,
			Files:    s.files,
			Mail:     s.mail,
			Bus:      s.bus,
		})
		s.addService("api", options.APIAddr, s.api.Listen, s.api.Serve, s.api.Close)
	}

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"services": len(s.services),
		"mail":     s.mail != nil,
	}).Debug("Server constructed")

	return s, nil
}

func (s *Server) openMail() error {
	store, err := mail.Open(s.options.MailDBPath)
	if err != nil {
		return err
	}

	scorer := mail.NewDefaultNaiveBayesScorer()
	if err := scorer.SetThreshold(s.options.SpamThreshold); err != nil {
		store.Close()
		return err
	}
	store.SetScorer(scorer)

	if s.options.SigningKeyPath != "" {
		signer, err := mail.LoadOrGenerateSigner(s.options.SigningKeyPath)
		if err != nil {
			store.Close()
			return fmt.Errorf("loading signing key: %w", err)
		}
		store.SetSigner(signer)
	}
	s.mail = store
	return nil
}

func (s *Server) addService(name, addr string, listen, serve, closeFn func() error) {
	s.services = append(s.services, &service{
		name:   name,
		addr:   addr,
		listen: listen,
		serve:  serve,
		close:  closeFn,
	})
}

// Start binds and serves every configured service. Services start
// independently: when one fails to bind, the others keep running and the
// failure is returned. Check IsRunning to tell a partial start from a total
// failure. The server stops when ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if s.running {
		return ErrAlreadyRunning
	}

	var failures []error
	started := 0
	for _, svc := range s.services {
		if err := svc.listen(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Start",
				"service":  svc.name,
				"address":  svc.addr,
				"error":    err.Error(),
			}).Error("Service failed to start")
			failures = append(failures, fmt.Errorf("%s: %w", svc.name, err))
			continue
		}
		svc.bound = true
		started++

		s.wg.Add(1)
		go s.serve(svc)
	}

	if started == 0 {
		return errors.Join(append([]error{ErrNoServices}, failures...)...)
	}

	s.running = true
	s.stopAfter = context.AfterFunc(ctx, func() { s.Stop() })

	logrus.WithFields(logrus.Fields{
		"function": "Start",
		"started":  started,
		"failed":   len(failures),
	}).Info("Server started")

	return errors.Join(failures...)
}

func (s *Server) serve(svc *service) {
	defer s.wg.Done()

	err := svc.serve()
	if err != nil && !errors.Is(err, transport.ErrServerClosed) {
		logrus.WithFields(logrus.Fields{
			"function": "serve",
			"service":  svc.name,
			"error":    err.Error(),
		}).Error("Service stopped unexpectedly")
	}
}

// Stop closes every service, waits for their loops to return and releases
// the event bus and mail store. It is safe to call more than once, and also
// releases a server whose Start failed. A stopped server cannot restart.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.running = false
	if s.stopAfter != nil {
		s.stopAfter()
	}
	s.mu.Unlock()

	var errs []error
	for _, svc := range s.services {
		if !svc.bound {
			continue
		}
		if err := svc.close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", svc.name, err))
		}
		svc.bound = false
	}
	s.wg.Wait()

	s.bus.Close()
	if s.mail != nil {
		if err := s.mail.Close(); err != nil {
			errs = append(errs, fmt.Errorf("mail: %w", err))
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Stop",
	}).Info("Server stopped")

	return errors.Join(errs...)
}

// IsRunning reports whether at least one service is serving.
func (s *Server) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// ControlAddr returns the bound control address, or nil.
func (s *Server) ControlAddr() net.Addr {
	if s.control == nil {
		return nil
	}
	return s.control.Addr()
}

// FileAddr returns the bound file transfer address, or nil.
func (s *Server) FileAddr() net.Addr {
	if s.file == nil {
		return nil
	}
	return s.file.Addr()
}

// APIAddr returns the bound admin API address, or nil.
func (s *Server) APIAddr() net.Addr {
	if s.api == nil {
		return nil
	}
	return s.api.Addr()
}

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Events returns the event bus.
func (s *Server) Events() *events.Bus {
	return s.bus
}

// Files returns the file store, or nil when the file service is disabled.
func (s *Server) Files() *file.Store {
	return s.files
}

// Mail returns the mail store, or nil when mail is disabled.
func (s *Server) Mail() *mail.Store {
	return s.mail
}
