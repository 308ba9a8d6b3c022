package main

import (
	"context"
	"io"

	"opnsensectl/internal/backup"
	"opnsensectl/internal/config"
	"opnsensectl/internal/fault"
	"opnsensectl/internal/opnsense"
	"opnsensectl/internal/storage"
	"opnsensectl/internal/storage/local"
	"opnsensectl/internal/storage/pbs"
	s3backend "opnsensectl/internal/storage/s3"
)

func newBackend(ctx context.Context, sc config.StorageConfig) (storage.Backend, error) {
	var b storage.Backend
	switch sc.Type {
	case "local":
		b = local.New(sc.Path)
	case "s3":
		s3b, err := s3backend.New(ctx, s3backend.Config{
			Bucket:          sc.Bucket,
			Prefix:          sc.Prefix,
			Region:          sc.Region,
			Endpoint:        sc.Endpoint,
			AccessKeyID:     sc.AccessKeyID,
			SecretAccessKey: sc.SecretAccessKey,
			StorageClass:    sc.StorageClass,
			ForcePathStyle:  sc.ForcePathStyle,
		})
		if err != nil {
			return nil, err
		}
		b = s3b
	case "pbs":
		pb, err := pbs.New(pbs.Config{
			Server:      sc.Server,
			Port:        sc.Port,
			Datastore:   sc.Datastore,
			Namespace:   sc.Namespace,
			Username:    sc.Username,
			Password:    sc.Password,
			Fingerprint: sc.Fingerprint,
			BackupID:    sc.BackupID,
		})
		if err != nil {
			return nil, err
		}
		b = pb
	default:
		return nil, fault.Configurationf("unsupported storage type: %s", sc.Type)
	}
	b.SetName(config.StorageConfigName(sc))
	return b, nil
}

// findBackend builds the configured storage entry called name.
func (a *app) findBackend(ctx context.Context, name string) (storage.Backend, error) {
	sc, err := a.cfg.FindStorage(name)
	if err != nil {
		return nil, err
	}
	return newBackend(ctx, sc)
}

// mirrors builds every configured storage entry as a backup mirror.
func (a *app) mirrors(ctx context.Context) ([]backup.Mirror, error) {
	var out []backup.Mirror
	for _, sc := range a.cfg.Storage {
		b, err := newBackend(ctx, sc)
		if err != nil {
			return nil, err
		}
		m := backup.Mirror{Backend: b}
		if sc.Retention != nil {
			m.Retention = *sc.Retention
		}
		out = append(out, m)
	}
	return out, nil
}

// lazyAppliance opens the session on first use, so that local
// preconditions fail before any credential prompt or network traffic.
type lazyAppliance struct {
	app     *app
	session *opnsense.Session
}

func (l *lazyAppliance) get(ctx context.Context) (*opnsense.Session, error) {
	if l.session == nil {
		s, err := l.app.connect(ctx)
		if err != nil {
			return nil, err
		}
		l.session = s
	}
	return l.session, nil
}

func (l *lazyAppliance) CreateBackup(ctx context.Context) (*opnsense.Result, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.CreateBackup(ctx)
}

func (l *lazyAppliance) DownloadBackup(ctx context.Context, remoteName string) ([]byte, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.DownloadBackup(ctx, remoteName)
}

func (l *lazyAppliance) RestoreBackup(ctx context.Context, fileName string, r io.Reader) (*opnsense.Result, error) {
	s, err := l.get(ctx)
	if err != nil {
		return nil, err
	}
	return s.RestoreBackup(ctx, fileName, r)
}
