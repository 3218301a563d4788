package driveradapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"fuzoj/internal/common/cache"
	"fuzoj/internal/judge/driver"
	apperrors "fuzoj/pkg/errors"
)

const sessionKeyPrefix = "judge:submission:"

// CacheSession implements driver.Session as a per-submission hash staged
// in cache.Cache: field "compile" holds the compile record, field
// "executable" the staged executable, and "eval:<index>" each scored
// testcase. The caller (the surrounding service) is responsible for
// eventually flattening a finished submission into durable storage; this
// adapter only owns the staging area a running judge job writes to.
type CacheSession struct {
	cache cache.Cache
	ttl   time.Duration
}

// NewCacheSession builds a Session adapter over cache, expiring an
// abandoned submission's staging area after ttl.
func NewCacheSession(c cache.Cache, ttl time.Duration) *CacheSession {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CacheSession{cache: c, ttl: ttl}
}

func (s *CacheSession) key(sub *driver.Submission) string {
	return sessionKeyPrefix + sub.ID
}

func (s *CacheSession) stage(ctx context.Context, sub *driver.Submission, field string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.StageFileFailed, "marshal %s", field)
	}
	if err := s.cache.HSet(ctx, s.key(sub), field, string(data)); err != nil {
		return apperrors.Wrapf(err, apperrors.StageFileFailed, "stage %s", field)
	}
	return s.cache.Expire(ctx, s.key(sub), s.ttl)
}

// SetCompileResult implements driver.Session.
func (s *CacheSession) SetCompileResult(ctx context.Context, sub *driver.Submission, result driver.CompileResult) error {
	return s.stage(ctx, sub, "compile", result)
}

// StageExecutable implements driver.Session.
func (s *CacheSession) StageExecutable(ctx context.Context, sub *driver.Submission, exe driver.Executable) error {
	return s.stage(ctx, sub, "executable", exe)
}

// StageEvaluation implements driver.Session.
func (s *CacheSession) StageEvaluation(ctx context.Context, sub *driver.Submission, eval driver.Evaluation) error {
	return s.stage(ctx, sub, fmt.Sprintf("eval:%d", eval.Index), eval)
}

var _ driver.Session = (*CacheSession)(nil)
