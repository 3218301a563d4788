package driver

import (
	"context"

	apperrors "fuzoj/pkg/errors"

	"go.uber.org/zap"
)

// withSandbox creates one sandbox via factory, hands it to fn, and
// releases it on every exit path (unless keepForDebug is set). This is
// the only place a sandbox's lifetime is managed; every pipeline step
// funnels through it so a sandbox can never leak, per §4.2.
func withSandbox(ctx context.Context, factory SandboxFactory, jobID string, keepForDebug bool, fn func(Sandbox) (bool, *apperrors.Error)) (bool, *apperrors.Error) {
	sbx, err := factory.New(ctx, jobID)
	if err != nil {
		return false, apperrors.Wrapf(err, apperrors.SandboxCreateFailed, "create sandbox for %s", jobID)
	}
	defer func() {
		if keepForDebug {
			return
		}
		_ = sbx.Delete()
	}()
	return fn(sbx)
}

// stageFile fetches digest from store and writes it into the sandbox as
// name, marking it executable when requested.
func stageFile(ctx context.Context, sbx Sandbox, store Store, log Logger, digest Digest, name string, executable bool) *apperrors.Error {
	data, err := store.Get(ctx, digest)
	if err != nil {
		log.Error(ctx, "store get failed", zap.String("file", name), zap.Error(err))
		return apperrors.Wrapf(err, apperrors.StageFileFailed, "fetch %s from store", name)
	}
	if err := sbx.CreateFileFromStorage(name, data, executable); err != nil {
		return apperrors.Wrapf(err, apperrors.StageFileFailed, "stage %s into sandbox", name)
	}
	return nil
}

// extractFile reads name out of the sandbox and puts it into the store,
// returning its digest.
func extractFile(ctx context.Context, sbx Sandbox, store Store, name string) (Digest, *apperrors.Error) {
	data, err := sbx.GetFile(name)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ExtractFileFailed, "read %s from sandbox", name)
	}
	digest, err := store.Put(ctx, data)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.ExtractFileFailed, "store %s", name)
	}
	return digest, nil
}

// readBounded reads at most maxLen bytes of name as text, used for
// compiler diagnostics and grader output.
func readBounded(sbx Sandbox, name string, maxLen int) (string, *apperrors.Error) {
	text, err := sbx.GetFileToString(name, maxLen)
	if err != nil {
		return "", apperrors.Wrapf(err, apperrors.SandboxInternal, "read %s", name)
	}
	return text, nil
}

// launch configures the sandbox and executes argv, blocking until the
// sandbox returns a verdict.
func launch(ctx context.Context, sbx Sandbox, cfg SandboxConfig, argv []string) (ExecReport, *apperrors.Error) {
	sbx.Configure(cfg)
	report, err := sbx.Execute(ctx, argv)
	if err != nil {
		return ExecReport{}, apperrors.Wrap(err, apperrors.SandboxInternal)
	}
	return report, nil
}
