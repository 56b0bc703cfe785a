package nuclos

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/saierd/go-nuclos/pkg/rest"
)

// processIndex is the pseudo attribute carrying the process/action of a
// record.
const processIndex = "nuclosProcess"

// Record is one instance of a business object type. It tracks the last
// fetched server state and local modifications separately; only Save sends
// the modifications to the server.
type Record struct {
	bo *BusinessObject

	boID    int64
	deleted bool

	data     *recordData
	modified map[string]any
}

type recordData struct {
	BoID       int64                      `json:"boId"`
	Title      string                     `json:"title"`
	Version    int64                      `json:"version"`
	Attributes map[string]any             `json:"attributes"`
	NextStates []nextState                `json:"nextStates"`
	SubBos     map[string]json.RawMessage `json:"subBos"`
}

type nextState struct {
	Name          string `json:"name"`
	NuclosStateID string `json:"nuclosStateId"`
	Number        *int   `json:"number"`
}

func newRecord(bo *BusinessObject, boID int64) *Record {
	return &Record{bo: bo, boID: boID, modified: make(map[string]any)}
}

func newLocalRecord(bo *BusinessObject) *Record {
	return &Record{bo: bo, modified: make(map[string]any)}
}

func (r *Record) BusinessObject() *BusinessObject {
	return r.bo
}

// ID returns the server id of the record. It is zero until the first Save.
func (r *Record) ID() int64 {
	return r.boID
}

func (r *Record) IsNew() bool {
	return r.boID == 0
}

func (r *Record) IsDeleted() bool {
	return r.deleted
}

func (r *Record) Meta(ctx context.Context) (*BusinessObjectMeta, error) {
	return r.bo.Meta(ctx)
}

// loadedData returns the clean server state, fetching it on first use.
func (r *Record) loadedData(ctx context.Context) (*recordData, error) {
	if r.deleted {
		return nil, ErrDeleted
	}

	if r.IsNew() {
		return nil, ErrNotPersisted
	}

	if r.data == nil {
		var data recordData

		err := r.bo.client.rest.Get(ctx, rest.BoInstanceRoute(r.bo.boMetaID, r.boID), nil, &data)
		if err != nil {
			return nil, mapNotFound(err, fmt.Sprintf("instance %d of '%s'", r.boID, r.bo.boMetaID))
		}

		r.data = &data
	}

	return r.data, nil
}

func mapNotFound(err error, what string) error {
	var httpErr *rest.HTTPError
	if errors.As(err, &httpErr) && httpErr.Status == http.StatusNotFound {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}

	return err
}

func (r *Record) Title(ctx context.Context) (string, error) {
	data, err := r.loadedData(ctx)
	if err != nil {
		return "", err
	}

	return data.Title, nil
}

// StateName returns the name of the current workflow state, or an empty
// string for stateless business objects.
func (r *Record) StateName(ctx context.Context) (string, error) {
	data, err := r.loadedData(ctx)
	if err != nil {
		return "", err
	}

	if state, ok := data.Attributes["nuclosState"].(map[string]any); ok {
		name, _ := state["name"].(string)

		return name, nil
	}

	return "", nil
}

// StateNumber returns the number of the current workflow state, or zero for
// stateless business objects.
func (r *Record) StateNumber(ctx context.Context) (int, error) {
	data, err := r.loadedData(ctx)
	if err != nil {
		return 0, err
	}

	if n, ok := toInt64(data.Attributes["nuclosStateNumber"]); ok {
		return int(n), nil
	}

	return 0, nil
}

// Process returns the current process/action name, preferring a staged
// SetProcess over the server state.
func (r *Record) Process(ctx context.Context) (string, error) {
	if staged, ok := r.modified[processIndex].(map[string]any); ok {
		name, _ := staged["name"].(string)

		return name, nil
	}

	data, err := r.loadedData(ctx)
	if err != nil {
		return "", err
	}

	if process, ok := data.Attributes[processIndex].(map[string]any); ok {
		name, _ := process["name"].(string)

		return name, nil
	}

	return "", nil
}

// SetProcess stages a process/action change. Unlike state transitions it is
// only committed by an explicit Save.
func (r *Record) SetProcess(name string) error {
	if r.deleted {
		return ErrDeleted
	}

	processID := r.bo.boMetaID + "_" + strings.ReplaceAll(name, " ", "")

	r.modified[processIndex] = map[string]any{
		"id":   processID,
		"name": name,
	}

	return nil
}

// Get reads a field by free-form name. The name resolves to an attribute
// first and to a sub-form dependency second.
func (r *Record) Get(ctx context.Context, name string) (Value, error) {
	if r.deleted {
		return Value{}, ErrDeleted
	}

	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return Value{}, err
	}

	attr, attrErr := meta.AttributeByName(name)
	if attrErr == nil {
		return r.attributeValue(ctx, attr)
	}

	if !errors.Is(attrErr, ErrNotFound) {
		return Value{}, attrErr
	}

	deps, depErr := r.Dependencies(ctx, name)
	if depErr == nil {
		return dependenciesValue(deps), nil
	}

	if errors.Is(depErr, ErrNotFound) {
		// Neither an attribute nor a dependency, report the attribute error.
		return Value{}, attrErr
	}

	return Value{}, depErr
}

// GetByID reads an attribute by its exact boAttrId.
func (r *Record) GetByID(ctx context.Context, boAttrID string) (Value, error) {
	if r.deleted {
		return Value{}, ErrDeleted
	}

	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return Value{}, err
	}

	attr, err := meta.Attribute(boAttrID)
	if err != nil {
		return Value{}, err
	}

	return r.attributeValue(ctx, attr)
}

func (r *Record) attributeValue(ctx context.Context, attr *AttributeMeta) (Value, error) {
	index := attr.DataIndex()

	raw, present := r.modified[index]
	if !present && !r.IsNew() {
		data, err := r.loadedData(ctx)
		if err != nil {
			return Value{}, err
		}

		raw, present = data.Attributes[index]
	}

	if !present || raw == nil {
		if attr.Type == "Boolean" {
			return scalarValue(false), nil
		}

		if attr.Reference {
			return referenceValue(nil), nil
		}

		return scalarValue(nil), nil
	}

	// Document attributes are also marked as references, check them first.
	if attr.IsDocument() {
		if document, ok := raw.(map[string]any); ok {
			return scalarValue(document["name"]), nil
		}

		return scalarValue(nil), nil
	}

	if attr.Reference {
		link, ok := raw.(map[string]any)
		if !ok {
			return referenceValue(nil), nil
		}

		id, ok := toInt64(link["id"])
		if !ok {
			return referenceValue(nil), nil
		}

		referenced := r.bo.client.businessObject(attr.ReferencedBoMetaID)

		return referenceValue(newRecord(referenced, id)), nil
	}

	return scalarValue(raw), nil
}

// Set writes an attribute by free-form name. The value is stored locally
// until Save.
func (r *Record) Set(ctx context.Context, name string, value any) error {
	if r.deleted {
		return ErrDeleted
	}

	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return err
	}

	attr, attrErr := meta.AttributeByName(name)
	if attrErr != nil {
		if errors.Is(attrErr, ErrNotFound) && !r.IsNew() {
			if _, depErr := r.dependencyByName(ctx, name); depErr == nil {
				return &ValueError{Message: fmt.Sprintf("dependency '%s' cannot be assigned, use CreateDependency", name)}
			}
		}

		return attrErr
	}

	return r.setAttribute(ctx, attr, value)
}

// SetByID writes an attribute by its exact boAttrId.
func (r *Record) SetByID(ctx context.Context, boAttrID string, value any) error {
	if r.deleted {
		return ErrDeleted
	}

	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return err
	}

	attr, err := meta.Attribute(boAttrID)
	if err != nil {
		return err
	}

	return r.setAttribute(ctx, attr, value)
}

func (r *Record) setAttribute(ctx context.Context, attr *AttributeMeta, value any) error {
	if !attr.Writable() {
		return &ValueError{Message: fmt.Sprintf("attribute '%s' is not writable", attr.Name)}
	}

	if isNilValue(value) && !attr.Nullable {
		return &ValueError{Message: fmt.Sprintf("attribute '%s' is not nullable", attr.Name)}
	}

	var encoded any

	switch {
	case attr.IsDocument():
		if isNilValue(value) {
			break
		}

		document, ok := value.(*Document)
		if !ok {
			return &ValueError{Message: fmt.Sprintf("attribute '%s' takes a *Document value", attr.Name)}
		}

		encoded = map[string]any{
			"name": document.Name,
			"data": base64.StdEncoding.EncodeToString(document.Data),
		}
	case attr.Reference:
		if isNilValue(value) {
			// Clear the link.
			encoded = map[string]any{"id": nil, "name": ""}

			break
		}

		referenced, ok := value.(*Record)
		if !ok {
			return &ValueError{Message: fmt.Sprintf("wrong value for reference attribute '%s'", attr.Name)}
		}

		if referenced.bo.boMetaID != attr.ReferencedBoMetaID {
			return &ValueError{Message: fmt.Sprintf(
				"wrong value for reference attribute '%s', expected a business object of type '%s'",
				attr.Name, attr.ReferencedBoMetaID)}
		}

		title, err := referenced.Title(ctx)
		if err != nil {
			return err
		}

		encoded = map[string]any{"id": referenced.boID, "name": title}
	default:
		if attr.Type == "String" && value != nil {
			if _, ok := value.(string); !ok {
				value = fmt.Sprint(value)
			}
		}

		encoded = value
	}

	r.modified[attr.DataIndex()] = encoded

	return nil
}

func isNilValue(value any) bool {
	if value == nil {
		return true
	}

	if record, ok := value.(*Record); ok {
		return record == nil
	}

	if document, ok := value.(*Document); ok {
		return document == nil
	}

	return false
}

// Document is the staged value of a document attribute.
type Document struct {
	Name string
	Data []byte
}

// SetDocument stages a file as the new value of a document attribute.
func (r *Record) SetDocument(ctx context.Context, name string, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read document %s: %w", path, err)
	}

	return r.Set(ctx, name, &Document{Name: filepath.Base(path), Data: data})
}

// DownloadDocument saves the current value of a document attribute to a file.
func (r *Record) DownloadDocument(ctx context.Context, name string, destPath string) error {
	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return err
	}

	attr, err := meta.AttributeByName(name)
	if err != nil {
		return err
	}

	return r.DownloadDocumentByID(ctx, attr.BoAttrID, destPath)
}

func (r *Record) DownloadDocumentByID(ctx context.Context, boAttrID string, destPath string) error {
	if _, err := r.loadedData(ctx); err != nil {
		return err
	}

	meta, err := r.bo.Meta(ctx)
	if err != nil {
		return err
	}

	attr, err := meta.Attribute(boAttrID)
	if err != nil {
		return err
	}

	if !attr.IsDocument() {
		return &ValueError{Message: fmt.Sprintf("attribute '%s' is not a document", attr.Name)}
	}

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer f.Close()

	return r.bo.client.rest.Download(ctx, rest.DocumentRoute(r.bo.boMetaID, r.boID, boAttrID), f)
}

func (r *Record) dependencyByName(ctx context.Context, name string) (*DependencyMeta, error) {
	data, err := r.loadedData(ctx)
	if err != nil {
		return nil, err
	}

	normalized := normalizeName(name)

	for dependencyID := range data.SubBos {
		meta, err := r.bo.dependencyMeta(ctx, dependencyID)
		if err != nil {
			return nil, err
		}

		if normalizeName(meta.Name) == normalized {
			return meta, nil
		}
	}

	return nil, fmt.Errorf("unknown dependency '%s': %w", name, ErrNotFound)
}

// Dependencies loads the dependent child records of a sub-form relation,
// found by name.
func (r *Record) Dependencies(ctx context.Context, name string) ([]*Record, error) {
	meta, err := r.dependencyByName(ctx, name)
	if err != nil {
		return nil, err
	}

	return r.DependenciesByID(ctx, meta.DependencyID)
}

// DependenciesByID loads the dependent child records of a sub-form relation.
func (r *Record) DependenciesByID(ctx context.Context, dependencyID string) ([]*Record, error) {
	if _, err := r.loadedData(ctx); err != nil {
		return nil, err
	}

	meta, err := r.bo.dependencyMeta(ctx, dependencyID)
	if err != nil {
		return nil, err
	}

	childBo := r.bo.client.businessObject(meta.BoMetaID)

	var page listPage
	if err := r.bo.client.rest.Get(ctx, rest.DependencyListRoute(r.bo.boMetaID, r.boID, dependencyID), nil, &page); err != nil {
		return nil, err
	}

	records := make([]*Record, 0, len(page.Bos))
	for _, entry := range page.Bos {
		records = append(records, newRecord(childBo, entry.BoID))
	}

	return records, nil
}

// CreateDependency returns a fresh unsaved child record pre-linked to this
// record. The relation is found by name.
func (r *Record) CreateDependency(ctx context.Context, name string) (*Record, error) {
	meta, err := r.dependencyByName(ctx, name)
	if err != nil {
		return nil, err
	}

	return r.CreateDependencyByID(ctx, meta.DependencyID)
}

// CreateDependencyByID returns a fresh unsaved child record pre-linked to
// this record.
func (r *Record) CreateDependencyByID(ctx context.Context, dependencyID string) (*Record, error) {
	if _, err := r.loadedData(ctx); err != nil {
		return nil, err
	}

	meta, err := r.bo.dependencyMeta(ctx, dependencyID)
	if err != nil {
		return nil, err
	}

	child := r.bo.client.businessObject(meta.BoMetaID).New()
	if err := child.SetByID(ctx, meta.RefAttrID, r); err != nil {
		return nil, err
	}

	return child, nil
}

// Save sends the local modifications to the server. A record without
// modifications is left untouched and causes no network traffic. New records
// are inserted and adopt the server-assigned id; persisted records send the
// modified fields only.
func (r *Record) Save(ctx context.Context) error {
	if r.deleted {
		return ErrDeleted
	}

	if len(r.modified) == 0 {
		return nil
	}

	body := map[string]any{
		"boMetaId":   r.bo.boMetaID,
		"attributes": r.modified,
	}

	var answer recordData

	if r.IsNew() {
		body["_flag"] = "insert"

		if err := r.bo.client.rest.Post(ctx, rest.BoInstanceListRoute(r.bo.boMetaID), body, &answer); err != nil {
			return err
		}
	} else {
		// The server rejects updates with a stale version counter.
		data, err := r.loadedData(ctx)
		if err != nil {
			return err
		}

		body["_flag"] = "update"
		body["boId"] = r.boID
		body["version"] = data.Version

		if err := r.bo.client.rest.Put(ctx, rest.BoInstanceRoute(r.bo.boMetaID, r.boID), body, &answer); err != nil {
			return err
		}
	}

	r.boID = answer.BoID
	r.data = &answer
	r.modified = make(map[string]any)

	return nil
}

// Refresh discards all local modifications and reloads the server state. It
// fails with ErrNotFound when the instance no longer exists server-side.
func (r *Record) Refresh(ctx context.Context) error {
	if r.deleted {
		return ErrDeleted
	}

	if r.IsNew() {
		return ErrNotPersisted
	}

	r.data = nil
	r.modified = make(map[string]any)

	_, err := r.loadedData(ctx)

	return err
}

// Delete removes the instance server-side. The record is terminal afterwards,
// any further access fails with ErrDeleted.
func (r *Record) Delete(ctx context.Context) error {
	if r.deleted {
		return nil
	}

	if r.IsNew() {
		return ErrNotPersisted
	}

	err := r.bo.client.rest.Delete(ctx, rest.BoInstanceRoute(r.bo.boMetaID, r.boID))
	if err != nil {
		return mapNotFound(err, fmt.Sprintf("instance %d of '%s'", r.boID, r.bo.boMetaID))
	}

	r.deleted = true

	return nil
}

// ChangeToState transitions the record to the state with the given number.
// The transition commits immediately and refreshes the record, unsaved
// modifications are discarded.
func (r *Record) ChangeToState(ctx context.Context, number int) error {
	data, err := r.loadedData(ctx)
	if err != nil {
		return err
	}

	for _, state := range data.NextStates {
		if stateNumber(state) == number {
			return r.changeToState(ctx, state.NuclosStateID)
		}
	}

	return &ValueError{Message: fmt.Sprintf("unknown state '%d'", number)}
}

// ChangeToStateByName transitions the record to the state with the given
// name, see ChangeToState.
func (r *Record) ChangeToStateByName(ctx context.Context, name string) error {
	data, err := r.loadedData(ctx)
	if err != nil {
		return err
	}

	for _, state := range data.NextStates {
		if strings.EqualFold(state.Name, name) {
			return r.changeToState(ctx, state.NuclosStateID)
		}
	}

	return &ValueError{Message: fmt.Sprintf("unknown state '%s'", name)}
}

func (r *Record) changeToState(ctx context.Context, stateID string) error {
	if err := r.bo.client.rest.Post(ctx, rest.StateChangeRoute(r.bo.boMetaID, r.boID, stateID), nil, nil); err != nil {
		return err
	}

	return r.Refresh(ctx)
}

func stateNumber(state nextState) int {
	if state.Number != nil {
		return *state.Number
	}

	// Newer servers omit the number, recover it from the end of the state id.
	id := state.NuclosStateID
	if i := strings.LastIndex(id, "_"); i >= 0 {
		if n, err := strconv.Atoi(id[i+1:]); err == nil {
			return n
		}
	}

	return -1
}
