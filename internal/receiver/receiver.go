// Package receiver translates authenticated Prime webhook deliveries into
// NetDocuments calls. Each handler catches its own failures so one bad event
// cannot take down the receiver.
package receiver

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/jmespath/go-jmespath"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"docbridge/internal/netdocs"
	"docbridge/internal/prime"
	"docbridge/pkg/middleware"
	"docbridge/pkg/problems"
	"docbridge/pkg/tenants"
)

var events = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "docbridge_webhook_events_total",
	Help: "Webhook deliveries processed, by event category and outcome.",
}, []string{"event", "outcome"})

// App holds the receiver's collaborators.
type App struct {
	log     *zap.SugaredLogger
	prime   *prime.Manager
	netdocs *netdocs.Manager
}

func New(log *zap.SugaredLogger, pm *prime.Manager, nm *netdocs.Manager) *App {
	return &App{log: log, prime: pm, netdocs: nm}
}

// Routes mounts the four webhook receivers. The webhook auth middleware is
// applied by the caller.
func (a *App) Routes(r chi.Router) {
	r.Post("/client", a.clientChanged)
	r.Post("/matter", a.matterChanged)
	r.Post("/document", a.documentChanged)
	r.Post("/settings", a.settingsValidation)
}

// sessions resolves both tenant sessions from the delivery's tenant claim.
func (a *App) sessions(ctx context.Context) (*prime.Session, *netdocs.Session, error) {
	alias := middleware.TenantAlias(ctx)
	if alias == "" {
		return nil, nil, problems.InvalidArgument("delivery carries no tenant alias")
	}
	ps, err := a.prime.Get(alias)
	if err != nil {
		return nil, nil, err
	}
	ns, err := a.netdocs.Get(alias)
	if err != nil {
		return nil, nil, err
	}
	return ps, ns, nil
}

func (a *App) clientChanged(w http.ResponseWriter, r *http.Request) {
	payload, err := decode(r)
	if err != nil {
		a.fail(w, "client", err)
		return
	}
	_, ns, err := a.sessions(r.Context())
	if err != nil {
		a.fail(w, "client", err)
		return
	}

	client, _ := jmespath.Search("data.data", payload)
	if _, err := ensureClient(r.Context(), ns, client); err != nil {
		a.fail(w, "client", err)
		return
	}
	events.WithLabelValues("client", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (a *App) matterChanged(w http.ResponseWriter, r *http.Request) {
	payload, err := decode(r)
	if err != nil {
		a.fail(w, "matter", err)
		return
	}
	ps, ns, err := a.sessions(r.Context())
	if err != nil {
		a.fail(w, "matter", err)
		return
	}

	matter, _ := jmespath.Search("data.data", payload)
	if _, _, err := ensureMatter(r.Context(), ps, ns, matter); err != nil {
		a.fail(w, "matter", err)
		return
	}
	events.WithLabelValues("matter", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

func (a *App) documentChanged(w http.ResponseWriter, r *http.Request) {
	payload, err := decode(r)
	if err != nil {
		a.fail(w, "document", err)
		return
	}
	ps, ns, err := a.sessions(r.Context())
	if err != nil {
		a.fail(w, "document", err)
		return
	}
	ctx := r.Context()

	documentID := str(payload, "data.id")
	document, err := fetch(ctx, ps.Document, documentID)
	if err != nil {
		a.fail(w, "document", err)
		return
	}
	collectionID := str(document, "documentCollectionId")
	fileName := str(document, "fileName")
	collection, err := fetch(ctx, ps.Collection, collectionID)
	if err != nil {
		a.fail(w, "document", err)
		return
	}
	subjectID := str(collection, "subjectId")

	var clientNumber, matterNumber string
	switch {
	case strings.HasPrefix(subjectID, "client"):
		client, err := fetch(ctx, ps.Client, subjectID)
		if err != nil {
			a.fail(w, "document", err)
			return
		}
		if clientNumber, err = ensureClient(ctx, ns, client); err != nil {
			a.fail(w, "document", err)
			return
		}
	case strings.HasPrefix(subjectID, "matter"):
		matter, err := fetch(ctx, ps.Matter, subjectID)
		if err != nil {
			a.fail(w, "document", err)
			return
		}
		if matterNumber, clientNumber, err = ensureMatter(ctx, ps, ns, matter); err != nil {
			a.fail(w, "document", err)
			return
		}
	default:
		// Receipts and other firm-level collections: no profile attributes.
		a.log.Infow("firm-level document", "collection", str(collection, "name"), "subject", subjectID, "document_id", documentID)
	}

	content, err := ps.DownloadDocument(ctx, documentID)
	if err != nil {
		a.fail(w, "document", err)
		return
	}
	defer content.Close()
	if _, err := ns.UploadDocument(ctx, documentID, clientNumber, matterNumber, fileName, content); err != nil {
		a.fail(w, "document", err)
		return
	}
	events.WithLabelValues("document", "ok").Inc()
	w.WriteHeader(http.StatusOK)
}

// settingsValidation answers Prime's configuration validation request by
// probing a NetDocs token exchange with the candidate settings.
func (a *App) settingsValidation(w http.ResponseWriter, r *http.Request) {
	payload, err := decode(r)
	if err != nil {
		a.fail(w, "settings", err)
		return
	}

	configData := str(payload, "data.configData")
	if strings.TrimSpace(configData) == "" {
		writeJSON(w, map[string]any{"success": true}, http.StatusOK)
		return
	}

	var cfg tenants.NetDocsConfig
	if err := json.Unmarshal([]byte(configData), &cfg); err != nil {
		writeJSON(w, map[string]any{"success": false, "reason": err.Error()}, http.StatusBadRequest)
		return
	}
	if reasons := netdocs.Validate(r.Context(), cfg); reasons != nil {
		events.WithLabelValues("settings", "error").Inc()
		writeJSON(w, map[string]any{"success": false, "reason": strings.Join(reasons, "\n")}, http.StatusBadRequest)
		return
	}
	events.WithLabelValues("settings", "ok").Inc()
	writeJSON(w, map[string]any{"success": true}, http.StatusOK)
}

// ensureClient mirrors a Prime client into NetDocs and returns its number.
func ensureClient(ctx context.Context, ns *netdocs.Session, client any) (string, error) {
	clientNumber := str(client, "clientNumber")
	if clientNumber == "" {
		return "", problems.Protocol("client payload has no clientNumber")
	}
	if err := ns.EnsureClient(ctx, clientNumber, str(client, "sortName")); err != nil {
		return "", err
	}
	return clientNumber, nil
}

// ensureMatter mirrors a Prime matter (and its owning client) into NetDocs.
func ensureMatter(ctx context.Context, ps *prime.Session, ns *netdocs.Session, matter any) (matterNumber, clientNumber string, err error) {
	clientID := str(matter, "clientId")
	matterNumber = str(matter, "matterNumber")
	if matterNumber == "" {
		return "", "", problems.Protocol("matter payload has no matterNumber")
	}

	client, err := fetch(ctx, ps.Client, clientID)
	if err != nil {
		return "", "", err
	}
	if clientNumber, err = ensureClient(ctx, ns, client); err != nil {
		return "", "", err
	}
	if err = ns.EnsureMatter(ctx, clientNumber, matterNumber, str(matter, "sortTitle")); err != nil {
		return "", "", err
	}
	return matterNumber, clientNumber, nil
}

func (a *App) fail(w http.ResponseWriter, event string, err error) {
	a.log.Errorw(event+" handler failed", "err", err)
	events.WithLabelValues(event, "error").Inc()
	problems.WriteHTTP(w, err)
}

func decode(r *http.Request) (any, error) {
	var payload any
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		return nil, problems.InvalidArgument("body is not valid JSON: %v", err)
	}
	return payload, nil
}

// fetch gets a Prime resource and decodes it for jmespath queries.
func fetch(ctx context.Context, get func(context.Context, string) (json.RawMessage, error), id string) (any, error) {
	if id == "" {
		return nil, problems.Protocol("payload is missing a resource identifier")
	}
	raw, err := get(ctx, id)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, problems.Protocol("resource %s is not valid JSON: %v", id, err)
	}
	return out, nil
}

// str evaluates a jmespath expression and returns the string result, or ""
// when the path is absent or not a string.
func str(data any, expr string) string {
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func writeJSON(w http.ResponseWriter, v any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
