package db

import (
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cloudbro-kube-ai/kube-copilot/pkg/log"
)

// PurgeOlderThan deletes executions older than days. It returns the number
// of deleted rows.
func PurgeOlderThan(days int) (int64, error) {
	if DB == nil || days <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	res, err := DB.Exec(rebind("DELETE FROM executions WHERE created_at < ?"), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRetention purges old executions now and then on schedule, a cron
// spec such as "@daily". The returned function stops the schedule.
func StartRetention(days int, schedule string) (stop func(), err error) {
	if days <= 0 {
		return func() {}, nil
	}

	purge := func() {
		n, err := PurgeOlderThan(days)
		if err != nil {
			log.Errorf("audit retention: %v", err)
			return
		}
		if n > 0 {
			log.Infof("audit retention: purged %d executions older than %d days", n, days)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(schedule, purge); err != nil {
		return nil, err
	}
	purge()
	c.Start()
	return func() { <-c.Stop().Done() }, nil
}
