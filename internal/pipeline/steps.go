package pipeline

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/relicta-tech/sitedeploy/internal/domain/deploy"
	sderrors "github.com/relicta-tech/sitedeploy/internal/errors"
	"github.com/relicta-tech/sitedeploy/internal/fileutil"
)

const (
	dirPerm      = 0o755
	settingsPerm = 0o644
)

func (p *Pipeline) ensureDirectories(_ context.Context, target deploy.Target, _ deploy.Release) error {
	for _, dir := range p.opts.Directories {
		path := filepath.Join(target.DeployPath, dir)
		if err := os.MkdirAll(path, dirPerm); err != nil {
			return sderrors.IOWrap(err, "pipeline.ensure-directories", "failed to create "+path)
		}
	}
	return nil
}

// collectStatic empties the static root before the collection command runs,
// so assets removed from the source do not linger. When the backend has no
// collection command the step is skipped and the assets are left alone.
func (p *Pipeline) collectStatic(ctx context.Context, target deploy.Target, _ deploy.Release) error {
	if c, ok := p.app.(StepConfigurer); ok && !c.Configured(deploy.StepCollectStatic) {
		return ErrSkipped
	}
	if p.opts.StaticRoot != "" {
		root := filepath.Join(target.DeployPath, p.opts.StaticRoot)
		if err := fileutil.ClearDir(root, dirPerm); err != nil {
			return sderrors.IOWrap(err, "pipeline.collect-static", "failed to clear "+root)
		}
	}
	return p.app.CollectStatic(ctx, target)
}

// purgeBytecode removes compiled bytecode under the deploy path.
func (p *Pipeline) purgeBytecode(ctx context.Context, target deploy.Target, _ deploy.Release) error {
	removed := 0
	err := filepath.WalkDir(target.DeployPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			switch d.Name() {
			case ".git":
				return filepath.SkipDir
			case "__pycache__":
				removed++
				if err := os.RemoveAll(path); err != nil {
					return err
				}
				return filepath.SkipDir
			}
			return nil
		}
		if isBytecode(d.Name()) {
			removed++
			if _, err := fileutil.RemoveIfExists(path); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return sderrors.IOWrap(err, "pipeline.purge-bytecode", "failed to purge bytecode")
	}
	p.logger.Debug("purged bytecode", "entries", removed)
	return nil
}

func isBytecode(name string) bool {
	return strings.HasSuffix(name, ".pyc") || strings.HasSuffix(name, ".pyo")
}

// writeLocalSettings writes the staging override file. Production keeps the
// checked-in settings.
func (p *Pipeline) writeLocalSettings(_ context.Context, target deploy.Target, release deploy.Release) error {
	if !target.IsStaging() || p.opts.LocalSettings == "" {
		return ErrSkipped
	}

	path := filepath.Join(target.DeployPath, p.opts.LocalSettings)
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return sderrors.IOWrap(err, "pipeline.write-local-settings", "failed to create settings directory")
	}
	if err := fileutil.AtomicWriteFile(path, LocalSettings(target.URLPrefix, release.Ref), settingsPerm); err != nil {
		return sderrors.IOWrap(err, "pipeline.write-local-settings", "failed to write "+path)
	}
	return nil
}

// LocalSettings renders the staging override file for prefix.
func LocalSettings(prefix, ref string) []byte {
	prefix = strings.TrimRight(prefix, "/")
	var b strings.Builder
	fmt.Fprintf(&b, "# Generated by sitedeploy for %s. Do not edit or commit.\n", ref)
	fmt.Fprintf(&b, "URL_PREFIX = '%s'\n", prefix)
	fmt.Fprintf(&b, "STATIC_URL = '%s/static/'\n", prefix)
	fmt.Fprintf(&b, "MEDIA_URL = '%s/media/'\n", prefix)
	return []byte(b.String())
}

// publishServiceConfig copies the target's supervisor config into the
// available directory, replacing any earlier copy.
func (p *Pipeline) publishServiceConfig(_ context.Context, target deploy.Target, _ deploy.Release) error {
	const op = "pipeline.publish-service-config"

	src := filepath.Join(target.DeployPath, target.ServiceConfig)
	if err := os.MkdirAll(p.opts.AvailableDir, dirPerm); err != nil {
		return sderrors.IOWrap(err, op, "failed to create "+p.opts.AvailableDir)
	}
	dst := filepath.Join(p.opts.AvailableDir, target.ConfigName)
	if err := fileutil.CopyFile(src, dst); err != nil {
		return sderrors.IOWrap(err, op, "failed to publish "+target.ConfigName)
	}
	return nil
}

func (p *Pipeline) recordAudit(_ context.Context, _ deploy.Target, release deploy.Release) error {
	entry := deploy.NewAuditEntry(release, p.now().UTC())
	if err := p.audit.Append(entry); err != nil {
		return sderrors.IOWrap(err, "pipeline.record-audit", "failed to append audit entry")
	}
	p.logger.Info("recorded deployment", "entry", entry.Line())
	return nil
}
