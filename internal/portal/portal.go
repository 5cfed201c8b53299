// Package portal is the provisioning access point and its credential form.
// HTTP handlers only hand requests to the supervisor tick, which decides them
// in Service.
package portal

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/thatsimonsguy/pai-supervisor/internal/datadog"
	"github.com/thatsimonsguy/pai-supervisor/internal/model"
	"github.com/thatsimonsguy/pai-supervisor/internal/network"
)

type CredentialStore interface {
	StoredSSID() string
	Save(creds model.Credentials) error
}

type Connector interface {
	Connect(creds model.Credentials, timeout time.Duration, keepAP bool) error
}

type Options struct {
	SSID           string
	Passphrase     string
	ListenAddr     string
	CloseDelay     time.Duration
	ConnectTimeout time.Duration
}

type requestKind int

const (
	showForm requestKind = iota
	submitCredentials
)

type request struct {
	kind  requestKind
	creds model.Credentials
	resp  chan response
}

type response struct {
	status int
	tmpl   string
	page   pageData
}

type Portal struct {
	opts      Options
	station   network.Station
	connector Connector
	store     CredentialStore

	// OnProvisioned runs on the tick after submitted credentials joined the network.
	OnProvisioned func(creds model.Credentials)

	router   chi.Router
	requests chan request

	server      *http.Server
	listener    net.Listener
	cancelServe context.CancelFunc
	active      bool
	closeAt     time.Time
}

func New(opts Options, station network.Station, connector Connector, store CredentialStore) *Portal {
	p := &Portal{
		opts:      opts,
		station:   station,
		connector: connector,
		store:     store,
		requests:  make(chan request),
	}
	p.router = p.routes()
	return p
}

func (p *Portal) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/", p.handleForm)
	r.Post("/save", p.handleSave)
	// captive portal: every other path shows the form
	r.NotFound(p.handleForm)
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("Portal request")
	})
}

func (p *Portal) Active() bool {
	return p.active
}

// Addr is the listener address while active.
func (p *Portal) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// CloseScheduled reports whether an auto-close is pending and when it fires.
func (p *Portal) CloseScheduled() (time.Time, bool) {
	return p.closeAt, !p.closeAt.IsZero()
}

// Start brings up the access point and HTTP server. It is a no-op while active.
func (p *Portal) Start() error {
	if p.active {
		return nil
	}

	if err := p.station.StartAP(p.opts.SSID, p.opts.Passphrase); err != nil {
		return fmt.Errorf("start access point: %w", err)
	}

	l, err := net.Listen("tcp", p.opts.ListenAddr)
	if err != nil {
		if stopErr := p.station.StopAP(); stopErr != nil {
			log.Warn().Err(stopErr).Msg("Failed to stop access point after listen failure")
		}
		return fmt.Errorf("listen on %s: %w", p.opts.ListenAddr, err)
	}

	// request contexts derive from serveCtx so pending handlers return once Stop runs
	serveCtx, cancel := context.WithCancel(context.Background())
	p.listener = l
	p.cancelServe = cancel
	p.server = &http.Server{
		Handler:      p.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: p.opts.ConnectTimeout + 15*time.Second,
		BaseContext:  func(net.Listener) context.Context { return serveCtx },
	}
	p.active = true
	p.closeAt = time.Time{}

	go func(srv *http.Server, l net.Listener) {
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Portal server stopped")
		}
	}(p.server, l)

	log.Info().
		Str("ssid", p.opts.SSID).
		Str("addr", l.Addr().String()).
		Msg("Provisioning portal started")
	datadog.BoolGauge("portal.active", true)
	return nil
}

// Stop tears down the HTTP server and access point. Safe to call when not active.
func (p *Portal) Stop() {
	if !p.active {
		return
	}
	p.active = false
	p.closeAt = time.Time{}
	p.cancelServe()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.server.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("Portal server shutdown incomplete")
	}
	p.server = nil
	p.listener = nil

	if err := p.station.StopAP(); err != nil {
		log.Warn().Err(err).Msg("Failed to stop access point")
	}

	log.Info().Msg("Provisioning portal stopped")
	datadog.BoolGauge("portal.active", false)
}

// Service handles the scheduled auto-close and at most one pending request.
func (p *Portal) Service(now time.Time) {
	if !p.active {
		return
	}
	if !p.closeAt.IsZero() && !now.Before(p.closeAt) {
		p.Stop()
		return
	}

	select {
	case req := <-p.requests:
		req.resp <- p.decide(req, now)
	default:
	}
}

func (p *Portal) decide(req request, now time.Time) response {
	switch req.kind {
	case submitCredentials:
		return p.submit(req.creds, now)
	default:
		return response{status: http.StatusOK, tmpl: "form", page: p.formPage("")}
	}
}

func (p *Portal) formPage(errMsg string) pageData {
	page := pageData{
		DeviceSSID: p.opts.SSID,
		StoredSSID: p.store.StoredSSID(),
		Error:      errMsg,
	}
	networks, err := p.station.Scan()
	if err != nil {
		log.Warn().Err(err).Msg("Network scan failed")
	}
	for _, n := range networks {
		page.Networks = append(page.Networks, networkOption{SSID: n.SSID, Signal: n.Signal})
	}
	return page
}

func (p *Portal) submit(creds model.Credentials, now time.Time) response {
	page := pageData{DeviceSSID: p.opts.SSID, SSID: creds.SSID}

	if err := p.connector.Connect(creds, p.opts.ConnectTimeout, true); err != nil {
		log.Warn().Err(err).Str("ssid", creds.SSID).Msg("Provisioned credentials failed to connect")
		datadog.Incr("portal.submissions", "result:failed")
		page.Error = fmt.Sprintf("Could not connect to %s. Check the password and try again.", creds.SSID)
		return response{status: http.StatusOK, tmpl: "result", page: page}
	}

	if err := p.store.Save(creds); err != nil {
		log.Error().Err(err).Msg("Failed to persist provisioned credentials")
	}

	page.Success = true
	page.IP = p.station.LocalIP()
	p.closeAt = now.Add(p.opts.CloseDelay)

	log.Info().
		Str("ssid", creds.SSID).
		Str("ip", page.IP).
		Time("close_at", p.closeAt).
		Msg("Provisioning succeeded")
	datadog.Incr("portal.submissions", "result:ok")

	if p.OnProvisioned != nil {
		p.OnProvisioned(creds)
	}
	return response{status: http.StatusOK, tmpl: "result", page: page}
}

// dispatch waits for the tick to decide req.
func (p *Portal) dispatch(w http.ResponseWriter, r *http.Request, req request) {
	req.resp = make(chan response, 1)

	select {
	case p.requests <- req:
	case <-r.Context().Done():
		http.Error(w, "portal closing", http.StatusServiceUnavailable)
		return
	}

	var resp response
	select {
	case resp = <-req.resp:
	case <-r.Context().Done():
		return
	}

	tmpl := formTemplate
	if resp.tmpl == "result" {
		tmpl = resultTemplate
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(resp.status)
	if err := tmpl.Execute(w, resp.page); err != nil {
		log.Error().Err(err).Msg("Failed to render portal page")
	}
}

func (p *Portal) handleForm(w http.ResponseWriter, r *http.Request) {
	p.dispatch(w, r, request{kind: showForm})
}

func (p *Portal) handleSave(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	creds := model.Credentials{SSID: r.PostForm.Get("ssid"), Password: r.PostForm.Get("password")}
	if !creds.Complete() {
		http.Error(w, "ssid and password are required", http.StatusBadRequest)
		return
	}
	p.dispatch(w, r, request{kind: submitCredentials, creds: creds})
}
