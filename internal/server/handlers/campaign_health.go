package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/3leaps/gosweep/pkg/status"
)

// CampaignRootChecker reports whether the served campaign directory can be
// scanned. Groups with malformed status documents do not fail the check;
// they are reported per group by the groups endpoints.
type CampaignRootChecker struct {
	Root string
}

func (c CampaignRootChecker) CheckHealth(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(c.Root)
	if err != nil {
		return fmt.Errorf("campaign root: %w", err)
	}
	if !info.IsDir() {
		return errors.New("campaign root is not a directory")
	}
	if _, err := status.Scan(c.Root, status.Filter{}); err != nil {
		return fmt.Errorf("campaign root: %w", err)
	}
	return nil
}
