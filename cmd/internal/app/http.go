package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"labdash/cmd/internal/auth/session"
	"labdash/cmd/internal/realtime"
)

// statusDeps is what the status server reads. Fields may be nil in tests.
type statusDeps struct {
	log      Logger
	cfg      Config
	gatherer prometheus.Gatherer
	session  *session.Controller
	rt       *realtime.Manager
	pool     *pgxpool.Pool
}

type userView struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"display_name,omitempty"`
	OrgID       string `json:"org_id,omitempty"`
}

type realtimeView struct {
	State     string   `json:"state"`
	Attempt   int      `json:"attempt"`
	SessionID string   `json:"session_id,omitempty"`
	LastError string   `json:"last_error,omitempty"`
	Exhausted bool     `json:"exhausted"`
	Rooms     []string `json:"rooms"`
}

// sessionView never carries credentials.
type sessionView struct {
	State           string        `json:"state"`
	IsAuthenticated bool          `json:"is_authenticated"`
	IsLoading       bool          `json:"is_loading"`
	Durability      string        `json:"durability,omitempty"`
	User            *userView     `json:"user,omitempty"`
	Roles           []string      `json:"roles"`
	Permissions     []string      `json:"permissions"`
	Error           string        `json:"error,omitempty"`
	Realtime        *realtimeView `json:"realtime,omitempty"`
}

func registerHTTP(mux *http.ServeMux, d statusDeps) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.pool != nil {
			if err := PingDB(r.Context(), d.pool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				d.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if d.cfg.ReadinessRequireRealtime && (d.rt == nil || d.rt.State() != realtime.StateConnected) {
			http.Error(w, "realtime not connected", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if d.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	}

	if d.session != nil {
		mux.HandleFunc("GET /session", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, buildSessionView(d.session.Snapshot(), d.rt))
		})

		mux.HandleFunc("POST /session/refresh", func(w http.ResponseWriter, r *http.Request) {
			if err := d.session.RefreshSession(r.Context()); err != nil {
				d.log.Warn("status.session.refresh.fail", "err", err)
				http.Error(w, "refresh failed", http.StatusConflict)
				return
			}
			writeJSON(w, http.StatusOK, buildSessionView(d.session.Snapshot(), d.rt))
		})

		mux.HandleFunc("POST /session/logout", func(w http.ResponseWriter, r *http.Request) {
			if err := d.session.Logout(r.Context()); err != nil {
				d.log.Warn("status.session.logout.fail", "err", err)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}

func buildSessionView(s session.Snapshot, rt *realtime.Manager) sessionView {
	v := sessionView{
		State:           s.State.String(),
		IsAuthenticated: s.IsAuthenticated(),
		IsLoading:       s.IsLoading(),
		Roles:           nonNil(s.Roles),
		Permissions:     nonNil(s.Permissions),
		Error:           s.Error,
	}
	if s.IsAuthenticated() {
		v.Durability = s.Durability.String()
		v.User = &userView{
			ID:          s.User.ID,
			Email:       s.User.Email,
			DisplayName: s.User.DisplayName,
			OrgID:       s.User.OrgID,
		}
	}

	if rt != nil {
		st := rt.Status()
		rv := &realtimeView{
			State:     st.State.String(),
			Attempt:   st.Attempt,
			SessionID: st.SessionID,
			Exhausted: st.Exhausted(),
			Rooms:     nonNil(rt.Registry().Rooms()),
		}
		if st.LastError != nil {
			rv.LastError = st.LastError.Error()
		}
		v.Realtime = rv
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
