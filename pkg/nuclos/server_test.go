package nuclos

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/saierd/go-nuclos/pkg/config"
)

// Fixture ids of the fake server.
const (
	customerMetaID = "example_rest_Customer"
	contactMetaID  = "example_rest_Contact"
	orderMetaID    = "example_rest_Order"

	ordersDependencyID = "example_rest_Customer_orders"
	orderRefAttrID     = "example_rest_Order_customer"

	// A sub-form relation whose name collides with the "Contact" attribute.
	contactsDependencyID = "example_rest_Customer_contacts"

	closedStateID = "example_rest_CustomerState_40"
)

// fakeNuclos simulates the parts of the Nuclos REST API the client talks to:
// session handling, metadata, instance CRUD, paging and state changes.
type fakeNuclos struct {
	t   *testing.T
	srv *httptest.Server

	mu        sync.Mutex
	sessions  map[string]bool
	nextSess  int
	nextID    int64
	instances map[string]map[int64]map[string]any // boMetaId -> boId -> attributes
	versions  map[int64]int64
	requests  []string
	lastBody  map[string]any
}

func newFakeNuclos(t *testing.T) *fakeNuclos {
	f := &fakeNuclos{
		t:        t,
		sessions: make(map[string]bool),
		nextID:   1,
		instances: map[string]map[int64]map[string]any{
			customerMetaID: {},
			contactMetaID:  {},
			orderMetaID:    {},
		},
		versions: make(map[int64]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /nuclos/rest/version", f.handleVersion)
	mux.HandleFunc("POST /nuclos/rest/{$}", f.handleLogin)
	mux.HandleFunc("DELETE /nuclos/rest/{$}", f.handleLogout)
	mux.HandleFunc("GET /nuclos/rest/bos", f.handleBoList)
	mux.HandleFunc("GET /nuclos/rest/boMetas/{meta}", f.handleBoMeta)
	mux.HandleFunc("GET /nuclos/rest/boMetas/{meta}/subBos/{dep}", f.handleDependencyMeta)
	mux.HandleFunc("GET /nuclos/rest/bos/{meta}", f.handleList)
	mux.HandleFunc("POST /nuclos/rest/bos/{meta}", f.handleInsert)
	mux.HandleFunc("GET /nuclos/rest/bos/{meta}/{id}", f.handleGet)
	mux.HandleFunc("PUT /nuclos/rest/bos/{meta}/{id}", f.handleUpdate)
	mux.HandleFunc("DELETE /nuclos/rest/bos/{meta}/{id}", f.handleDelete)
	mux.HandleFunc("GET /nuclos/rest/bos/{meta}/{id}/subBos/{dep}", f.handleDependencyList)
	mux.HandleFunc("POST /nuclos/rest/boStateChanges/{meta}/{id}/{state}", f.handleStateChange)
	mux.HandleFunc("GET /nuclos/rest/boDocuments/{meta}/{id}/documents/{attr}", f.handleDocument)

	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry := r.Method + " " + r.URL.Path
		if r.URL.RawQuery != "" {
			entry += "?" + r.URL.RawQuery
		}

		f.mu.Lock()
		f.requests = append(f.requests, entry)
		f.mu.Unlock()

		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)

	return f
}

func (f *fakeNuclos) settings(t *testing.T) *config.Settings {
	addr := strings.TrimPrefix(f.srv.URL, "http://")

	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)

	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	settings := config.Defaults()
	settings.Server.Host = host
	settings.Server.Port = port
	settings.Nuclos.Username = "nuclos"
	settings.Nuclos.Password = "secret"

	return settings
}

func (f *fakeNuclos) client(t *testing.T) *Client {
	return NewClient(f.settings(t))
}

func (f *fakeNuclos) addInstance(boMetaID string, attributes map[string]any) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++

	if attributes == nil {
		attributes = map[string]any{}
	}

	f.instances[boMetaID][id] = attributes
	f.versions[id] = 1

	return id
}

// addCustomer seeds one customer instance and returns its id.
func (f *fakeNuclos) addCustomer(attributes map[string]any) int64 {
	return f.addInstance(customerMetaID, attributes)
}

func (f *fakeNuclos) addOrder(customerID int64, item string) int64 {
	return f.addInstance(orderMetaID, map[string]any{
		"item":     item,
		"customer": map[string]any{"id": customerID, "name": ""},
	})
}

func (f *fakeNuclos) requestCount(substr string) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	count := 0

	for _, r := range f.requests {
		if strings.Contains(r, substr) {
			count++
		}
	}

	return count
}

func (f *fakeNuclos) totalRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.requests)
}

func (f *fakeNuclos) authorized(r *http.Request) bool {
	cookie, err := r.Cookie("JSESSIONID")
	if err != nil {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.sessions[cookie.Value]
}

func (f *fakeNuclos) requireAuth(w http.ResponseWriter, r *http.Request) bool {
	if !f.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)

		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeNuclos) handleVersion(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte("4.2021.10 (build 123)"))
}

func (f *fakeNuclos) handleLogin(w http.ResponseWriter, r *http.Request) {
	var credentials struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}

	if err := json.NewDecoder(r.Body).Decode(&credentials); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	if credentials.Username != "nuclos" || credentials.Password != "secret" {
		w.WriteHeader(http.StatusUnauthorized)

		return
	}

	f.mu.Lock()
	f.nextSess++
	session := fmt.Sprintf("sess-%d", f.nextSess)
	f.sessions[session] = true
	f.mu.Unlock()

	writeJSON(w, map[string]any{"sessionId": session})
}

func (f *fakeNuclos) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie("JSESSIONID"); err == nil {
		f.mu.Lock()
		delete(f.sessions, cookie.Value)
		f.mu.Unlock()
	}

	w.WriteHeader(http.StatusOK)
}

func (f *fakeNuclos) handleBoList(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	writeJSON(w, []map[string]any{
		{"name": "Customer", "boMetaId": customerMetaID},
		{"name": "Contact", "boMetaId": contactMetaID},
		{"name": "Order", "boMetaId": orderMetaID},
		// Some server versions ship business objects without a name, see
		// Client.AddNamespace.
		{"name": "", "boMetaId": "example_rest_Legacy"},
	})
}

func customerAttributes() map[string]any {
	return map[string]any{
		"name": map[string]any{
			"name": "Name", "boAttrId": customerMetaID + "_name", "type": "String",
			"readonly": false, "nullable": true, "unique": false, "reference": false,
		},
		"email": map[string]any{
			"name": "E-Mail", "boAttrId": customerMetaID + "_email", "type": "String",
			"readonly": false, "nullable": true, "unique": true, "reference": false,
		},
		"active": map[string]any{
			"name": "Active", "boAttrId": customerMetaID + "_active", "type": "Boolean",
			"readonly": false, "nullable": true, "unique": false, "reference": false,
		},
		"number": map[string]any{
			"name": "Customer Number", "boAttrId": customerMetaID + "_number", "type": "Integer",
			"readonly": true, "nullable": true, "unique": true, "reference": false,
		},
		"contact": map[string]any{
			"name": "Contact", "boAttrId": customerMetaID + "_contact", "type": "Reference",
			"readonly": false, "nullable": true, "unique": false, "reference": true,
			"referencingBoMetaId": contactMetaID,
		},
		"file": map[string]any{
			"name": "File", "boAttrId": customerMetaID + "_file", "type": "Document",
			"readonly": false, "nullable": true, "unique": false, "reference": true,
		},
	}
}

func (f *fakeNuclos) handleBoMeta(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	switch r.PathValue("meta") {
	case customerMetaID:
		writeJSON(w, map[string]any{"name": "Customer", "attributes": customerAttributes()})
	case contactMetaID:
		writeJSON(w, map[string]any{"name": "Contact", "attributes": map[string]any{
			"name": map[string]any{
				"name": "Name", "boAttrId": contactMetaID + "_name", "type": "String",
				"readonly": false, "nullable": true, "unique": false, "reference": false,
			},
		}})
	case orderMetaID:
		writeJSON(w, map[string]any{"name": "Order", "attributes": map[string]any{
			"item": map[string]any{
				"name": "Item", "boAttrId": orderMetaID + "_item", "type": "String",
				"readonly": false, "nullable": true, "unique": false, "reference": false,
			},
			"customer": map[string]any{
				"name": "Customer", "boAttrId": orderRefAttrID, "type": "Reference",
				"readonly": false, "nullable": false, "unique": false, "reference": true,
				"referencingBoMetaId": customerMetaID,
			},
		}})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNuclos) handleDependencyMeta(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	if r.PathValue("meta") != customerMetaID {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	switch r.PathValue("dep") {
	case ordersDependencyID:
		writeJSON(w, map[string]any{
			"name":      "Orders",
			"boMetaId":  orderMetaID,
			"refAttrId": orderRefAttrID,
		})
	case contactsDependencyID:
		writeJSON(w, map[string]any{
			"name":      "Contact",
			"boMetaId":  contactMetaID,
			"refAttrId": contactMetaID + "_customer",
		})
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (f *fakeNuclos) instanceJSON(boMetaID string, id int64, attributes map[string]any) map[string]any {
	title, _ := attributes["name"].(string)

	attrs := make(map[string]any, len(attributes))
	for k, v := range attributes {
		attrs[k] = v
	}

	result := map[string]any{
		"boId":       id,
		"title":      title,
		"version":    f.versions[id],
		"attributes": attrs,
	}

	if boMetaID == customerMetaID {
		if _, ok := attrs["nuclosState"]; !ok {
			attrs["nuclosState"] = map[string]any{"name": "Open"}
			attrs["nuclosStateNumber"] = 10
		}

		// The state id carries the number, the answer itself does not.
		result["nextStates"] = []map[string]any{
			{"name": "Closed", "nuclosStateId": closedStateID},
		}
		result["subBos"] = map[string]any{
			ordersDependencyID: map[string]any{
				"links": map[string]any{"boMeta": map[string]any{"href": "unused"}},
			},
			contactsDependencyID: map[string]any{
				"links": map[string]any{"boMeta": map[string]any{"href": "unused"}},
			},
		}
	}

	return result
}

func (f *fakeNuclos) handleGet(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")

	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	attributes, ok := f.instances[boMetaID][id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	writeJSON(w, f.instanceJSON(boMetaID, id, attributes))
}

func (f *fakeNuclos) handleList(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")

	f.mu.Lock()
	defer f.mu.Unlock()

	store := f.instances[boMetaID]

	ids := make([]int64, 0, len(store))
	for id := range store {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("chunksize"))

	if offset > len(ids) {
		offset = len(ids)
	}

	ids = ids[offset:]
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}

	bos := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		bos = append(bos, map[string]any{"boId": id})
	}

	writeJSON(w, map[string]any{"bos": bos, "all": len(bos) < limit})
}

func (f *fakeNuclos) handleInsert(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastBody = body

	if body["_flag"] != "insert" {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	attributes, _ := body["attributes"].(map[string]any)

	id := f.nextID
	f.nextID++
	f.instances[boMetaID][id] = attributes
	f.versions[id] = 1

	writeJSON(w, f.instanceJSON(boMetaID, id, attributes))
}

func (f *fakeNuclos) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	var body map[string]any
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastBody = body

	attributes, ok := f.instances[boMetaID][id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	if body["_flag"] != "update" {
		w.WriteHeader(http.StatusBadRequest)

		return
	}

	if version, _ := body["version"].(float64); int64(version) != f.versions[id] {
		w.WriteHeader(http.StatusConflict)

		return
	}

	changed, _ := body["attributes"].(map[string]any)
	for k, v := range changed {
		attributes[k] = v
	}

	f.versions[id]++

	writeJSON(w, f.instanceJSON(boMetaID, id, attributes))
}

func (f *fakeNuclos) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := f.instances[boMetaID][id]; !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	delete(f.instances[boMetaID], id)
	w.WriteHeader(http.StatusOK)
}

func (f *fakeNuclos) handleDependencyList(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	if r.PathValue("dep") == contactsDependencyID {
		writeJSON(w, map[string]any{"bos": []map[string]any{}})

		return
	}

	if r.PathValue("dep") != ordersDependencyID {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	parentID, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	ids := make([]int64, 0)

	for id, attributes := range f.instances[orderMetaID] {
		if link, ok := attributes["customer"].(map[string]any); ok {
			if n, ok := link["id"].(int64); ok && n == parentID {
				ids = append(ids, id)

				continue
			}

			if n, ok := link["id"].(float64); ok && int64(n) == parentID {
				ids = append(ids, id)
			}
		}
	}

	slices.Sort(ids)

	bos := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		bos = append(bos, map[string]any{"boId": id})
	}

	writeJSON(w, map[string]any{"bos": bos})
}

func (f *fakeNuclos) handleDocument(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	boMetaID := r.PathValue("meta")
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	f.mu.Lock()
	defer f.mu.Unlock()

	attributes, ok := f.instances[boMetaID][id]
	if !ok || r.PathValue("attr") != customerMetaID+"_file" {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	document, ok := attributes["file"].(map[string]any)
	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	name, _ := document["name"].(string)
	_, _ = fmt.Fprintf(w, "content of %s", name)
}

func (f *fakeNuclos) handleStateChange(w http.ResponseWriter, r *http.Request) {
	if !f.requireAuth(w, r) {
		return
	}

	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	if r.PathValue("state") != closedStateID {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	attributes, ok := f.instances[customerMetaID][id]
	if !ok {
		w.WriteHeader(http.StatusNotFound)

		return
	}

	attributes["nuclosState"] = map[string]any{"name": "Closed"}
	attributes["nuclosStateNumber"] = 40
	f.versions[id]++

	w.WriteHeader(http.StatusOK)
}

