package status

import (
	"fmt"
	"path/filepath"
	"slices"

	"github.com/3leaps/gosweep/pkg/campaign"
)

// Filter restricts a scan. Empty fields mean no restriction.
type Filter struct {
	Users  []string
	Groups []string

	// Runs restricts return-code listing and output playback to these run
	// ids, and log lines to those mentioning one of them.
	Runs []string
}

func (f Filter) allows(set []string, name string) bool {
	return len(set) == 0 || slices.Contains(set, name)
}

// Scan inspects every group of the campaign directory at root, users first
// then groups, both in name order.
//
// Errors inspecting one group are recorded on its report and the scan
// continues. Only an unreadable root or user directory is returned as an
// error.
func Scan(root string, f Filter) ([]GroupReport, error) {
	users, err := campaign.SubDirs(root)
	if err != nil {
		return nil, fmt.Errorf("read campaign directory: %w", err)
	}

	var reports []GroupReport
	for _, user := range users {
		if !f.allows(f.Users, user) {
			continue
		}
		userDir := filepath.Join(root, user)
		groups, err := campaign.SubDirs(userDir)
		if err != nil {
			return reports, fmt.Errorf("read user directory %s: %w", user, err)
		}
		for _, group := range groups {
			if !f.allows(f.Groups, group) {
				continue
			}
			rep, err := InspectGroup(filepath.Join(userDir, group))
			if err != nil {
				rep.Err = err
				rep.Error = err.Error()
			}
			reports = append(reports, *rep)
		}
	}
	return reports, nil
}
