// Package transferconfig manages destination configurations: validation,
// persistence, connection tests and YAML import/export.
package transferconfig

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/goatkit/tickettransfer/internal/logger"
	"github.com/goatkit/tickettransfer/internal/models"
	"github.com/goatkit/tickettransfer/internal/repository"
	"github.com/goatkit/tickettransfer/internal/service/remoterpc"
	"github.com/goatkit/tickettransfer/internal/service/transfer"
)

// Connection test results stored on the config.
const (
	TestResultSuccess = "Success"
	testResultFailed  = "Failed: "
)

// ErrDuplicateName is returned when another config already uses the name.
var ErrDuplicateName = errors.New("a destination configuration with this name already exists")

// Store persists configs. TransferConfigRepository implements it.
type Store interface {
	GetByID(ctx context.Context, id int) (*models.TransferConfig, error)
	List(ctx context.Context, activeOnly bool) ([]*models.TransferConfig, error)
	Create(ctx context.Context, cfg *models.TransferConfig) (int, error)
	Update(ctx context.Context, cfg *models.TransferConfig) error
	Delete(ctx context.Context, id int) error
	ExistsByName(ctx context.Context, name string, excludeID int) (bool, error)
	RecordConnectionTest(ctx context.Context, id int, at time.Time, result string) error
}

// Authenticator opens a session on a destination.
type Authenticator interface {
	Authenticate(ctx context.Context, ep remoterpc.Endpoint) (*remoterpc.Session, error)
}

// Service handles destination configuration operations.
type Service struct {
	store Store
	auth  Authenticator
	log   logrus.FieldLogger
	now   func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger injects a logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Service) {
		s.log = l
	}
}

// NewService creates a config service.
func NewService(store Store, auth Authenticator, opts ...Option) *Service {
	s := &Service{
		store: store,
		auth:  auth,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = logger.Component(s.log, "transferconfig")
	return s
}

// Get returns a config by id.
func (s *Service) Get(ctx context.Context, id int) (*models.TransferConfig, error) {
	return s.store.GetByID(ctx, id)
}

// List returns all configs, or only active ones.
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*models.TransferConfig, error) {
	return s.store.List(ctx, activeOnly)
}

// Create validates and stores a new config.
func (s *Service) Create(ctx context.Context, cfg *models.TransferConfig) (*models.TransferConfig, error) {
	normalize(cfg)
	if err := s.check(ctx, cfg, 0); err != nil {
		return nil, err
	}
	id, err := s.store.Create(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create configuration: %w", err)
	}
	cfg.ID = id
	s.log.WithFields(logrus.Fields{"config_id": id, "name": cfg.Name}).Info("destination configuration created")
	return cfg, nil
}

// Update validates and replaces a config and its stage mappings. An empty
// secret keeps the stored one.
func (s *Service) Update(ctx context.Context, cfg *models.TransferConfig) (*models.TransferConfig, error) {
	existing, err := s.store.GetByID(ctx, cfg.ID)
	if err != nil {
		return nil, err
	}
	normalize(cfg)
	if cfg.Secret == "" {
		cfg.Secret = existing.Secret
	}
	if err := s.check(ctx, cfg, cfg.ID); err != nil {
		return nil, err
	}
	if err := s.store.Update(ctx, cfg); err != nil {
		return nil, fmt.Errorf("failed to update configuration: %w", err)
	}
	return cfg, nil
}

// Delete removes a config and its stage mappings.
func (s *Service) Delete(ctx context.Context, id int) error {
	return s.store.Delete(ctx, id)
}

// TestConnection authenticates against the destination and stores the
// result on the config. The authentication error is returned on failure.
func (s *Service) TestConnection(ctx context.Context, id int) error {
	cfg, err := s.store.GetByID(ctx, id)
	if err != nil {
		return err
	}

	result := TestResultSuccess
	_, authErr := s.auth.Authenticate(ctx, remoterpc.EndpointFromConfig(cfg))
	if authErr != nil {
		result = testResultFailed + failureMessage(authErr)
	}

	if err := s.store.RecordConnectionTest(ctx, id, s.now(), result); err != nil {
		s.log.WithError(err).WithField("config_id", id).Warn("could not store connection test result")
	}

	entry := s.log.WithFields(logrus.Fields{"config_id": id, "url": cfg.URL})
	if authErr != nil {
		entry.WithError(authErr).Warn("connection test failed")
		return authErr
	}
	entry.Info("connection test succeeded")
	return nil
}

func (s *Service) check(ctx context.Context, cfg *models.TransferConfig, excludeID int) error {
	if err := cfg.Validate(); err != nil {
		return &transfer.ValidationError{Message: "invalid destination configuration", Err: err}
	}
	exists, err := s.store.ExistsByName(ctx, cfg.Name, excludeID)
	if err != nil {
		return err
	}
	if exists {
		return &transfer.ValidationError{Message: fmt.Sprintf("name %q", cfg.Name), Err: ErrDuplicateName}
	}
	return nil
}

func normalize(cfg *models.TransferConfig) {
	cfg.Name = strings.TrimSpace(cfg.Name)
	cfg.URL = strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	cfg.Database = strings.TrimSpace(cfg.Database)
	cfg.Login = strings.TrimSpace(cfg.Login)
	for i := range cfg.StageMappings {
		cfg.StageMappings[i].DestinationStageName = strings.TrimSpace(cfg.StageMappings[i].DestinationStageName)
	}
}

func failureMessage(err error) string {
	var authErr *remoterpc.AuthenticationError
	if errors.As(err, &authErr) && authErr.Message != "" {
		return authErr.Message
	}
	return err.Error()
}

// Document is the YAML layout used by Export and Import.
type Document struct {
	Version int                      `yaml:"version"`
	Configs []*models.TransferConfig `yaml:"configs"`
}

// ExportOptions controls Export.
type ExportOptions struct {
	IDs            []int
	IncludeSecrets bool
}

// Export writes the selected configs (all when no ids are given) as YAML.
func (s *Service) Export(ctx context.Context, w io.Writer, opts ExportOptions) (int, error) {
	var configs []*models.TransferConfig
	if len(opts.IDs) == 0 {
		list, err := s.store.List(ctx, false)
		if err != nil {
			return 0, err
		}
		// List does not load stage mappings.
		for _, c := range list {
			full, err := s.store.GetByID(ctx, c.ID)
			if err != nil {
				return 0, err
			}
			configs = append(configs, full)
		}
	} else {
		for _, id := range opts.IDs {
			cfg, err := s.store.GetByID(ctx, id)
			if err != nil {
				return 0, fmt.Errorf("config %d: %w", id, err)
			}
			configs = append(configs, cfg)
		}
	}

	if !opts.IncludeSecrets {
		for _, c := range configs {
			c.Secret = ""
		}
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(Document{Version: 1, Configs: configs}); err != nil {
		return 0, fmt.Errorf("failed to encode configurations: %w", err)
	}
	return len(configs), enc.Close()
}

// ImportResult summarizes an Import.
type ImportResult struct {
	Created int      `json:"created"`
	Updated int      `json:"updated"`
	Errors  []string `json:"errors,omitempty"`
}

// Import reads a YAML document and upserts each config by name. Invalid
// entries are reported and skipped.
func (s *Service) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var doc Document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, &transfer.ValidationError{Message: "invalid configuration document", Err: err}
	}

	existing, err := s.store.List(ctx, false)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]int, len(existing))
	for _, c := range existing {
		byName[c.Name] = c.ID
	}

	res := &ImportResult{}
	for i, cfg := range doc.Configs {
		if cfg == nil {
			continue
		}
		normalize(cfg)
		if id, ok := byName[cfg.Name]; ok {
			cfg.ID = id
			if _, err := s.Update(ctx, cfg); err != nil {
				res.Errors = append(res.Errors, fmt.Sprintf("config %d (%s): %v", i+1, cfg.Name, err))
				continue
			}
			res.Updated++
			continue
		}
		if _, err := s.Create(ctx, cfg); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("config %d (%s): %v", i+1, cfg.Name, err))
			continue
		}
		byName[cfg.Name] = cfg.ID
		res.Created++
	}
	return res, nil
}

// IsNotFound reports whether err means the config does not exist.
func IsNotFound(err error) bool {
	return repository.IsNotFound(err)
}
