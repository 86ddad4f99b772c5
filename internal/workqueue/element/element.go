// Package element contains the records the work queue reasons about: work elements, the
// granular schedulable slices of a request, and inbox records, the per-request aggregates
// that carry intent between queue levels before local splitting.
package element

import (
	"fmt"
	"sort"
	"time"

	"golang.org/x/exp/maps"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

// InputKind says what the names in an element's Inputs refer to.
type InputKind string

const (
	BlockInput        InputKind = "Block"
	DatasetInput      InputKind = "Dataset"
	EventsInput       InputKind = "Events"
	ResubmissionInput InputKind = "Resubmission"
)

// HasLocality returns false for inputs that are not held at any site (generated events).
func (k InputKind) HasLocality() bool {
	return k != EventsInput
}

// Mask restricts an element to part of its input. Event ranges are used for generated
// events, file ranges for blocks too large for a single element. Bounds are inclusive.
type Mask struct {
	FirstEvent int64 `json:"firstEvent,omitempty"`
	LastEvent  int64 `json:"lastEvent,omitempty"`
	FirstFile  int64 `json:"firstFile,omitempty"`
	LastFile   int64 `json:"lastFile,omitempty"`
}

func (m *Mask) String() string {
	if m == nil {
		return ""
	}
	return fmt.Sprintf("events[%d-%d]files[%d-%d]", m.FirstEvent, m.LastEvent, m.FirstFile, m.LastFile)
}

// Events returns the number of events covered by the event range.
func (m *Mask) Events() int64 {
	if m == nil || m.LastEvent < m.FirstEvent {
		return 0
	}
	return m.LastEvent - m.FirstEvent + 1
}

func (m *Mask) DeepCopy() *Mask {
	if m == nil {
		return nil
	}
	c := *m
	return &c
}

// Element is a schedulable slice of a request.
// Elements stored in a backend must not be modified in place: copy, modify, then compare-and-swap.
type Element struct {
	Id          string `json:"id"`
	RequestName string `json:"requestName"`
	// Path of the task this element belongs to, e.g. /Request/Task
	TaskName string `json:"taskName"`
	SpecRef  string `json:"specRef"`
	// Region name to the sites holding it.
	Inputs    map[string][]string `json:"inputs"`
	InputKind InputKind           `json:"inputKind"`
	// Constituent blocks of a dataset-level region. Lets a lower level re-split per block.
	Blocks []string `json:"blocks,omitempty"`
	Mask   *Mask    `json:"mask,omitempty"`
	// Empty at the global level.
	ParentElementId string `json:"parentElementId,omitempty"`
	ParentQueueURL  string `json:"parentQueueUrl,omitempty"`
	// Queue that claimed this element. Empty until claimed.
	ChildQueueURL  string   `json:"childQueueUrl,omitempty"`
	Status         Status   `json:"status"`
	Priority       int32    `json:"priority"`
	SiteWhitelist  []string `json:"siteWhitelist,omitempty"`
	SiteBlacklist  []string `json:"siteBlacklist,omitempty"`
	Jobs           int64    `json:"jobs"`
	NumberOfFiles  int64    `json:"numberOfFiles"`
	NumberOfEvents int64    `json:"numberOfEvents"`
	NumberOfLumis  int64    `json:"numberOfLumis"`
	// Process parent files along with the input.
	ParentFlag bool `json:"parentFlag,omitempty"`
	// Set once handed to the execution layer.
	SubscriptionId  string    `json:"subscriptionId,omitempty"`
	PercentComplete float64   `json:"percentComplete"`
	PercentSuccess  float64   `json:"percentSuccess"`
	Revision        int64     `json:"revision"`
	InsertTime      time.Time `json:"insertTime"`
	UpdateTime      time.Time `json:"updateTime"`
}

// NewId returns the id for an element of the given request and task covering inputs.
// The id depends only on its arguments, so re-splitting produces identical ids.
func NewId(requestName, taskName, parentElementId string, inputs []string, mask *Mask) string {
	sorted := append([]string{}, inputs...)
	sort.Strings(sorted)
	parts := append([]string{requestName, taskName, parentElementId, mask.String()}, sorted...)
	return util.StableId(parts...)
}

// InputNames returns the sorted names of the element's input regions.
func (e *Element) InputNames() []string {
	names := maps.Keys(e.Inputs)
	sort.Strings(names)
	return names
}

// DataSites returns the sites holding every input region, i.e. where the element can read
// all of its data locally. Nil for inputs without locality.
func (e *Element) DataSites() []string {
	if !e.InputKind.HasLocality() {
		return nil
	}
	lists := make([][]string, 0, len(e.Inputs))
	for _, name := range e.InputNames() {
		lists = append(lists, e.Inputs[name])
	}
	return util.SortedIntersection(lists...)
}

// CanRunAt returns true if site satisfies the element's site lists and data locality.
func (e *Element) CanRunAt(site string) bool {
	if util.ContainsString(e.SiteBlacklist, site) {
		return false
	}
	if len(e.SiteWhitelist) > 0 && !util.ContainsString(e.SiteWhitelist, site) {
		return false
	}
	if !e.InputKind.HasLocality() {
		return true
	}
	return util.ContainsString(e.DataSites(), site)
}

// PossibleSites returns the subset of sites at which the element could run, sorted.
// With no sites given it is computed from the data locality and the whitelist.
func (e *Element) PossibleSites(sites ...string) []string {
	if len(sites) == 0 {
		if e.InputKind.HasLocality() {
			sites = e.DataSites()
		} else {
			sites = e.SiteWhitelist
		}
	}
	result := []string{}
	for _, site := range util.SortedUnion(sites) {
		if e.CanRunAt(site) {
			result = append(result, site)
		}
	}
	return result
}

// EstimatedJobs is Jobs with a floor of one: every element represents some work.
func (e *Element) EstimatedJobs() int64 {
	if e.Jobs < 1 {
		return 1
	}
	return e.Jobs
}

// SetStatus moves the element to status, validating the transition.
func (e *Element) SetStatus(status Status) error {
	if !e.Status.CanTransitionTo(status) {
		return &wqerrors.ErrInvalidTransition{Id: e.Id, From: e.Status.String(), To: status.String()}
	}
	e.Status = status
	return nil
}

// Reset returns a claimed element to Available, forgetting its claimant and subscription.
// This is the administrative recovery path and deliberately bypasses the state machine.
// Terminal elements are left alone and false is returned.
func (e *Element) Reset() bool {
	switch e.Status {
	case Negotiating, Acquired, Running:
		e.Status = Available
		e.ChildQueueURL = ""
		e.SubscriptionId = ""
		e.PercentComplete = 0
		e.PercentSuccess = 0
		return true
	default:
		return false
	}
}

// DeepCopy returns a copy sharing no mutable state with e.
func (e *Element) DeepCopy() *Element {
	if e == nil {
		return nil
	}
	c := *e
	c.Inputs = copyInputs(e.Inputs)
	c.Blocks = copyStrings(e.Blocks)
	c.Mask = e.Mask.DeepCopy()
	c.SiteWhitelist = copyStrings(e.SiteWhitelist)
	c.SiteBlacklist = copyStrings(e.SiteBlacklist)
	return &c
}

func copyInputs(inputs map[string][]string) map[string][]string {
	if inputs == nil {
		return nil
	}
	c := make(map[string][]string, len(inputs))
	for k, v := range inputs {
		c[k] = copyStrings(v)
	}
	return c
}

func copyStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string{}, s...)
}
