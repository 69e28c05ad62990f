package report

import (
	"time"

	"github.com/sirupsen/logrus"

	"dashboard.sw360.org/common"
)

// Stage is one isolated unit of a report run. A failing stage is logged
// and skipped; the remaining stages still run so one broken view or API
// cannot blank out the whole dashboard.
type Stage struct {
	Name string
	Run  func() error
}

// RunStages executes the stages in order and returns the number that
// failed.
func RunStages(stages []Stage, logger *logrus.Logger) int {
	if logger == nil {
		logger = common.Logger
	}

	started := time.Now()
	failed := 0
	for _, stage := range stages {
		stageStart := time.Now()
		if err := stage.Run(); err != nil {
			failed++
			logger.WithFields(logrus.Fields{
				"stage":    stage.Name,
				"duration": time.Since(stageStart).Round(time.Millisecond),
			}).WithError(err).Error("stage failed")
			continue
		}
		logger.WithFields(logrus.Fields{
			"stage":    stage.Name,
			"duration": time.Since(stageStart).Round(time.Millisecond),
		}).Info("stage completed")
	}

	logger.WithFields(logrus.Fields{
		"stages":   len(stages),
		"failed":   failed,
		"duration": time.Since(started).Round(time.Millisecond),
	}).Info("report run finished")
	return failed
}
