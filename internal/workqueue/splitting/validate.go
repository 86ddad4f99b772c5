package splitting

import (
	"context"
	"net/url"

	"github.com/armadaproject/workqueue/internal/common/wqerrors"
	"github.com/armadaproject/workqueue/internal/workqueue/location"
	"github.com/armadaproject/workqueue/internal/workqueue/spec"
)

// Validate checks a task against the outside world before it is split: site lists must be
// well formed, the location service must be a URL, the input dataset must exist, and a
// run whitelist must select at least one of its runs. Failures are *wqerrors.ErrSpecRejected.
func Validate(ctx context.Context, s *spec.Specification, task *spec.Task, locations location.Service) error {
	if err := validateSiteLists(s); err != nil {
		return err
	}
	if task.LocationService != "" {
		u, err := url.Parse(task.LocationService)
		if err != nil || !u.IsAbs() || u.Host == "" {
			return &wqerrors.ErrSpecRejected{
				Request: s.RequestName,
				Field:   "LocationService",
				Value:   task.LocationService,
				Message: "must be an absolute URL",
			}
		}
	}
	if task.InputDataset == "" {
		return nil
	}
	blocks, err := locations.ListBlocks(ctx, task.InputDataset)
	if wqerrors.IsNotFound(err) {
		return &wqerrors.ErrSpecRejected{
			Request: s.RequestName,
			Field:   "InputDataset",
			Value:   task.InputDataset,
			Message: "dataset is unknown",
		}
	} else if err != nil {
		return err
	}
	if len(task.RunWhitelist) > 0 {
		for _, b := range blocks {
			if anyRunIn(b.Runs, task.RunWhitelist) {
				return nil
			}
		}
		return &wqerrors.ErrSpecRejected{
			Request: s.RequestName,
			Field:   "RunWhitelist",
			Value:   task.RunWhitelist,
			Message: "no run of the input dataset is whitelisted",
		}
	}
	return nil
}

func validateSiteLists(s *spec.Specification) error {
	black := map[string]bool{}
	for _, site := range s.SiteBlacklist {
		if site == "" {
			return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "SiteBlacklist", Value: s.SiteBlacklist, Message: "site names must not be empty"}
		}
		black[site] = true
	}
	for _, site := range s.SiteWhitelist {
		if site == "" {
			return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "SiteWhitelist", Value: s.SiteWhitelist, Message: "site names must not be empty"}
		}
		if black[site] {
			return &wqerrors.ErrSpecRejected{Request: s.RequestName, Field: "SiteWhitelist", Value: site, Message: "site is also blacklisted"}
		}
	}
	return nil
}
