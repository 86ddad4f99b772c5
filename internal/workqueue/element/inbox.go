package element

import (
	"time"

	"github.com/armadaproject/workqueue/internal/common/util"
	"github.com/armadaproject/workqueue/internal/common/wqerrors"
)

// Inbox is the aggregate, pre-split record for a request at one queue instance.
// At the top of the tree there is one per request. Lower levels hold one stub per parent
// element they pulled, identified by that element's id.
type Inbox struct {
	Id          string `json:"id"`
	RequestName string `json:"requestName"`
	TaskName    string `json:"taskName,omitempty"`
	SpecRef     string `json:"specRef"`
	Status      Status `json:"status"`
	Priority    int32  `json:"priority"`
	// Regions already turned into elements at this level. Guards against re-splitting.
	ProcessedInputs []string            `json:"processedInputs,omitempty"`
	Inputs          map[string][]string `json:"inputs,omitempty"`
	InputKind       InputKind           `json:"inputKind,omitempty"`
	Blocks          []string            `json:"blocks,omitempty"`
	Mask            *Mask               `json:"mask,omitempty"`
	ParentElementId string              `json:"parentElementId,omitempty"`
	ParentQueueURL  string              `json:"parentQueueUrl,omitempty"`
	SiteWhitelist   []string            `json:"siteWhitelist,omitempty"`
	SiteBlacklist   []string            `json:"siteBlacklist,omitempty"`
	Jobs            int64               `json:"jobs"`
	ParentFlag      bool                `json:"parentFlag,omitempty"`
	OpenForNewData  bool                `json:"openForNewData,omitempty"`
	// Last time a split of this inbox found new input. Drives the open-split timeout.
	LastNewDataTime time.Time `json:"lastNewDataTime"`
	PercentComplete float64   `json:"percentComplete"`
	PercentSuccess  float64   `json:"percentSuccess"`
	Revision        int64     `json:"revision"`
	InsertTime      time.Time `json:"insertTime"`
	UpdateTime      time.Time `json:"updateTime"`
}

// RequestInboxId is the id of the top-level inbox record of a request.
func RequestInboxId(requestName string) string {
	return util.StableId("inbox", requestName)
}

// StubFromElement builds the inbox stub a child queue writes after pulling parent.
func StubFromElement(parent *Element, parentQueueURL string, now time.Time) *Inbox {
	return &Inbox{
		Id:              parent.Id,
		RequestName:     parent.RequestName,
		TaskName:        parent.TaskName,
		SpecRef:         parent.SpecRef,
		Status:          Negotiating,
		Priority:        parent.Priority,
		Inputs:          copyInputs(parent.Inputs),
		InputKind:       parent.InputKind,
		Blocks:          copyStrings(parent.Blocks),
		Mask:            parent.Mask.DeepCopy(),
		ParentElementId: parent.Id,
		ParentQueueURL:  parentQueueURL,
		SiteWhitelist:   copyStrings(parent.SiteWhitelist),
		SiteBlacklist:   copyStrings(parent.SiteBlacklist),
		Jobs:            parent.Jobs,
		ParentFlag:      parent.ParentFlag,
		LastNewDataTime: now,
		InsertTime:      now,
		UpdateTime:      now,
	}
}

// IsStub returns true for inbox records that were pulled from a parent queue.
func (i *Inbox) IsStub() bool {
	return i.ParentElementId != ""
}

// IsProcessed returns true if input has already been split at this level.
func (i *Inbox) IsProcessed(input string) bool {
	return util.ContainsString(i.ProcessedInputs, input)
}

// AddProcessedInputs records inputs as split, keeping the list sorted and de-duplicated.
func (i *Inbox) AddProcessedInputs(inputs ...string) {
	i.ProcessedInputs = util.SortedUnion(i.ProcessedInputs, inputs)
}

// SetStatus moves the inbox to status, validating the transition.
func (i *Inbox) SetStatus(status Status) error {
	if !i.Status.CanTransitionTo(status) {
		return &wqerrors.ErrInvalidTransition{Id: i.Id, From: i.Status.String(), To: status.String()}
	}
	i.Status = status
	return nil
}

func (i *Inbox) DeepCopy() *Inbox {
	if i == nil {
		return nil
	}
	c := *i
	c.ProcessedInputs = copyStrings(i.ProcessedInputs)
	c.Inputs = copyInputs(i.Inputs)
	c.Blocks = copyStrings(i.Blocks)
	c.Mask = i.Mask.DeepCopy()
	c.SiteWhitelist = copyStrings(i.SiteWhitelist)
	c.SiteBlacklist = copyStrings(i.SiteBlacklist)
	return &c
}
