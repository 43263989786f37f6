package tenant

import (
	"context"
	"time"

	"github.com/influxdata/onboarding"
	"go.uber.org/zap"
)

type OnboardingLogger struct {
	logger            *zap.Logger
	onboardingService onboarding.OnboardingService
}

// NewOnboardingLogger returns a logging service middleware for the Onboarding Service.
func NewOnboardingLogger(log *zap.Logger, s onboarding.OnboardingService) *OnboardingLogger {
	return &OnboardingLogger{
		logger:            log,
		onboardingService: s,
	}
}

var _ onboarding.OnboardingService = (*OnboardingLogger)(nil)

func (l *OnboardingLogger) RunOnboardingSaga(ctx context.Context, req *onboarding.OnboardingRequest) (res *onboarding.OnboardingResult, err error) {
	defer func(start time.Time) {
		dur := zap.Duration("took", time.Since(start))
		if err != nil {
			l.logger.Debug("failed to run onboarding saga", zap.Error(err), dur)
			return
		}
		fields := []zap.Field{zap.String("status", string(res.Status)), dur}
		if res.Failure != nil {
			fields = append(fields, zap.String("kind", string(res.Failure.Kind)))
		}
		l.logger.Debug("run onboarding saga", fields...)
	}(time.Now())
	return l.onboardingService.RunOnboardingSaga(ctx, req)
}
