package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

// PlanKind is the discriminant of the serialized plan.
type PlanKind string

const (
	PlanKindSimple PlanKind = "simple"
	PlanKindLong   PlanKind = "long"
	PlanKindURL    PlanKind = "url"
	PlanKindImage  PlanKind = "image"
	PlanKindLatLng PlanKind = "latlng"
	PlanKindCircle PlanKind = "circle"
	PlanKindPath   PlanKind = "path"
)

// PlanBody is implemented by each plan variant. The set of variants is closed.
type PlanBody interface {
	Kind() PlanKind
	content() string
	validate() error
	wire() planWire
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

func (p LatLng) String() string {
	return fmt.Sprintf("%.6f,%.6f", p.Lat, p.Lng)
}

func (p LatLng) validate() error {
	if p.Lat < -90 || p.Lat > 90 {
		return ValidationError{Field: "lat", Reason: "out of range"}
	}
	if p.Lng < -180 || p.Lng > 180 {
		return ValidationError{Field: "lng", Reason: "out of range"}
	}
	return nil
}

type SimplePlan struct {
	Title string
}

type LongPlan struct {
	Title       string
	Description string
}

type URLPlan struct {
	Title string
	Href  string
}

type ImagePlan struct {
	Href string
}

type LatLngPlan struct {
	Label *string
	Point LatLng
}

type CirclePlan struct {
	Label  *string
	Center LatLng
	Radius float64
}

type PathPlan struct {
	Label  *string
	Points []LatLng
}

func (SimplePlan) Kind() PlanKind { return PlanKindSimple }
func (LongPlan) Kind() PlanKind   { return PlanKindLong }
func (URLPlan) Kind() PlanKind    { return PlanKindURL }
func (ImagePlan) Kind() PlanKind  { return PlanKindImage }
func (LatLngPlan) Kind() PlanKind { return PlanKindLatLng }
func (CirclePlan) Kind() PlanKind { return PlanKindCircle }
func (PathPlan) Kind() PlanKind   { return PlanKindPath }

func (p SimplePlan) content() string { return p.Title }
func (p LongPlan) content() string   { return p.Title }
func (p URLPlan) content() string    { return p.Title + p.Href }
func (p ImagePlan) content() string  { return p.Href }
func (p LatLngPlan) content() string { return p.Point.String() }
func (p CirclePlan) content() string { return fmt.Sprintf("%s,%.6f", p.Center, p.Radius) }
func (p PathPlan) content() string {
	parts := make([]string, len(p.Points))
	for i, pt := range p.Points {
		parts[i] = pt.String()
	}
	return strings.Join(parts, ";")
}

func requireText(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return ValidationError{Field: field, Reason: "must not be empty"}
	}
	return nil
}

func requireHref(value string) error {
	if err := requireText("href", value); err != nil {
		return err
	}
	u, err := url.Parse(value)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ValidationError{Field: "href", Reason: "must be an absolute url"}
	}
	return nil
}

func (p SimplePlan) validate() error { return requireText("title", p.Title) }
func (p LongPlan) validate() error   { return requireText("title", p.Title) }
func (p URLPlan) validate() error {
	if err := requireText("title", p.Title); err != nil {
		return err
	}
	return requireHref(p.Href)
}
func (p ImagePlan) validate() error  { return requireHref(p.Href) }
func (p LatLngPlan) validate() error { return p.Point.validate() }
func (p CirclePlan) validate() error {
	if p.Radius <= 0 {
		return ValidationError{Field: "radius", Reason: "must be positive"}
	}
	return p.Center.validate()
}
func (p PathPlan) validate() error {
	if len(p.Points) < 2 {
		return ValidationError{Field: "points", Reason: "a path needs at least two points"}
	}
	for _, pt := range p.Points {
		if err := pt.validate(); err != nil {
			return err
		}
	}
	return nil
}

// planWire is the flat serialized form shared by every variant.
type planWire struct {
	Type        PlanKind `json:"type"`
	ID          string   `json:"id,omitempty"`
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Href        string   `json:"href,omitempty"`
	Label       *string  `json:"label,omitempty"`
	Lat         *float64 `json:"lat,omitempty"`
	Lng         *float64 `json:"lng,omitempty"`
	Radius      *float64 `json:"radius,omitempty"`
	Points      []LatLng `json:"points,omitempty"`
}

func (p SimplePlan) wire() planWire { return planWire{Title: p.Title} }
func (p LongPlan) wire() planWire {
	return planWire{Title: p.Title, Description: p.Description}
}
func (p URLPlan) wire() planWire   { return planWire{Title: p.Title, Href: p.Href} }
func (p ImagePlan) wire() planWire { return planWire{Href: p.Href} }
func (p LatLngPlan) wire() planWire {
	return planWire{Label: p.Label, Lat: &p.Point.Lat, Lng: &p.Point.Lng}
}
func (p CirclePlan) wire() planWire {
	return planWire{Label: p.Label, Lat: &p.Center.Lat, Lng: &p.Center.Lng, Radius: &p.Radius}
}
func (p PathPlan) wire() planWire { return planWire{Label: p.Label, Points: p.Points} }

func (w planWire) point() (LatLng, error) {
	if w.Lat == nil || w.Lng == nil {
		return LatLng{}, ValidationError{Field: "lat/lng", Reason: "required"}
	}
	return LatLng{Lat: *w.Lat, Lng: *w.Lng}, nil
}

func (w planWire) body() (PlanBody, error) {
	switch w.Type {
	case PlanKindSimple:
		return SimplePlan{Title: w.Title}, nil
	case PlanKindLong:
		return LongPlan{Title: w.Title, Description: w.Description}, nil
	case PlanKindURL:
		return URLPlan{Title: w.Title, Href: w.Href}, nil
	case PlanKindImage:
		return ImagePlan{Href: w.Href}, nil
	case PlanKindLatLng:
		pt, err := w.point()
		if err != nil {
			return nil, err
		}
		return LatLngPlan{Label: w.Label, Point: pt}, nil
	case PlanKindCircle:
		pt, err := w.point()
		if err != nil {
			return nil, err
		}
		if w.Radius == nil {
			return nil, ValidationError{Field: "radius", Reason: "required"}
		}
		return CirclePlan{Label: w.Label, Center: pt, Radius: *w.Radius}, nil
	case PlanKindPath:
		return PathPlan{Label: w.Label, Points: w.Points}, nil
	default:
		return nil, ValidationError{Field: "type", Reason: fmt.Sprintf("unknown plan type %q", w.Type)}
	}
}

// Plan is one option within a topic. It is immutable once stored.
type Plan struct {
	Body PlanBody
}

// NewPlan wraps and validates a variant.
func NewPlan(body PlanBody) (Plan, error) {
	if body == nil {
		return Plan{}, ValidationError{Field: "type", Reason: "required"}
	}
	if err := body.validate(); err != nil {
		return Plan{}, err
	}
	return Plan{Body: body}, nil
}

func (p Plan) ID() string {
	if p.Body == nil {
		return ""
	}
	return ContentID(p.Body.content())
}
func (p Plan) KeyPrefix() string { return PrefixPlan }

// Equal reports whether both plans are the same variant with the same body.
// Variants can share an id, so equal ids do not imply equal plans.
func (p Plan) Equal(other Plan) bool {
	if p.Body == nil || other.Body == nil {
		return p.Body == nil && other.Body == nil
	}
	a, errA := json.Marshal(p)
	b, errB := json.Marshal(other)
	return errA == nil && errB == nil && bytes.Equal(a, b)
}
func (p Plan) ListItem() string  { return p.ID() }

func (p Plan) MarshalJSON() ([]byte, error) {
	if p.Body == nil {
		return nil, fmt.Errorf("plan has no body")
	}
	w := p.Body.wire()
	w.Type = p.Body.Kind()
	w.ID = p.ID()
	return json.Marshal(w)
}

func (p *Plan) UnmarshalJSON(data []byte) error {
	var w planWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	body, err := w.body()
	if err != nil {
		return err
	}
	p.Body = body
	return nil
}
