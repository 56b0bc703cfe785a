package nuclos

import (
	"fmt"
	"sort"
	"strings"
)

// normalizeName maps a free-form name to its canonical lookup form. Matching
// is case-insensitive and blind to spaces, underscores and the hyphens some
// display names carry, so "E-Mail", "email" and "e mail" all resolve to the
// same attribute.
func normalizeName(name string) string {
	var b strings.Builder

	for _, r := range strings.ToLower(name) {
		switch r {
		case ' ', '_', '-':
		default:
			b.WriteRune(r)
		}
	}

	return b.String()
}

// AttributeMeta describes one attribute of a business object type.
type AttributeMeta struct {
	boMetaID string

	Name               string `json:"name"`
	BoAttrID           string `json:"boAttrId"`
	Type               string `json:"type"`
	ReadOnly           bool   `json:"readonly"`
	Nullable           bool   `json:"nullable"`
	Unique             bool   `json:"unique"`
	Reference          bool   `json:"reference"`
	ReferencedBoMetaID string `json:"referencingBoMetaId"`
}

func (a *AttributeMeta) Writable() bool {
	return !a.ReadOnly
}

func (a *AttributeMeta) IsDocument() bool {
	return strings.EqualFold(a.Type, "document")
}

// DataIndex returns the key under which this attribute appears in instance
// data. Attribute ids are prefixed with the business object's meta id; the
// data uses the unprefixed remainder.
func (a *AttributeMeta) DataIndex() string {
	if strings.HasPrefix(a.BoAttrID, a.boMetaID+"_") {
		return a.BoAttrID[len(a.boMetaID)+1:]
	}

	return a.BoAttrID
}

// DependencyMeta describes a sub-form relation to another business object
// type.
type DependencyMeta struct {
	DependencyID string `json:"-"`

	Name      string `json:"name"`
	BoMetaID  string `json:"boMetaId"`
	RefAttrID string `json:"refAttrId"`
}

// BusinessObjectMeta is the cached metadata of one business object type. It
// is fetched once per type and never mutated afterwards, so it is safe to
// share between all records of the type.
type BusinessObjectMeta struct {
	boMetaID   string
	name       string
	attributes []*AttributeMeta
}

type boMetaData struct {
	Name       string                    `json:"name"`
	Attributes map[string]*AttributeMeta `json:"attributes"`
}

func newBusinessObjectMeta(boMetaID string, data boMetaData) *BusinessObjectMeta {
	attributes := make([]*AttributeMeta, 0, len(data.Attributes))

	for _, attr := range data.Attributes {
		attr.boMetaID = boMetaID
		attributes = append(attributes, attr)
	}

	// The JSON object carries no reliable order, sort for determinism.
	sort.Slice(attributes, func(i, j int) bool {
		return attributes[i].BoAttrID < attributes[j].BoAttrID
	})

	return &BusinessObjectMeta{
		boMetaID:   boMetaID,
		name:       data.Name,
		attributes: attributes,
	}
}

func (m *BusinessObjectMeta) BoMetaID() string {
	return m.boMetaID
}

func (m *BusinessObjectMeta) Name() string {
	return m.name
}

// The REST API does not expose these permissions yet, see the meta data
// answer of current server versions.

func (m *BusinessObjectMeta) CanInsert() bool { return true }
func (m *BusinessObjectMeta) CanUpdate() bool { return true }
func (m *BusinessObjectMeta) CanDelete() bool { return true }

// Attributes returns all attributes of the type in a stable order.
func (m *BusinessObjectMeta) Attributes() []*AttributeMeta {
	return m.attributes
}

// Attribute finds an attribute by its exact boAttrId, without normalization.
func (m *BusinessObjectMeta) Attribute(boAttrID string) (*AttributeMeta, error) {
	for _, attr := range m.attributes {
		if attr.BoAttrID == boAttrID {
			return attr, nil
		}
	}

	return nil, fmt.Errorf("unknown attribute '%s': %w", boAttrID, ErrNotFound)
}

// AttributeByName finds an attribute by its normalized display name.
func (m *BusinessObjectMeta) AttributeByName(name string) (*AttributeMeta, error) {
	normalized := normalizeName(name)

	for _, attr := range m.attributes {
		if normalizeName(attr.Name) == normalized {
			return attr, nil
		}
	}

	return nil, fmt.Errorf("unknown attribute '%s': %w", name, ErrNotFound)
}
