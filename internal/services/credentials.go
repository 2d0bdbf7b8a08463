package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wplaunch/internal/models"
	"wplaunch/internal/notify"
	"wplaunch/internal/secrets"
	"wplaunch/internal/store"
)

// CredentialInput is a hosting login as submitted by the operator.
type CredentialInput struct {
	Name     string `json:"name" form:"name"`
	Host     string `json:"host" form:"host"`
	Username string `json:"username" form:"username"`
	Password string `json:"password" form:"password"`
	Port     int    `json:"port" form:"port"`
}

func (in CredentialInput) account() Account {
	return Account{
		Host:     strings.TrimSpace(in.Host),
		Username: strings.TrimSpace(in.Username),
		Password: in.Password,
		Port:     in.Port,
	}
}

// FTPStatus reports the FTP side of a validation.
type FTPStatus struct {
	Verified bool        `json:"verified"`
	Account  *FTPAccount `json:"account,omitempty"`
	Error    string      `json:"error,omitempty"`
}

// ValidationReport is the combined result of a credential validation.
type ValidationReport struct {
	CPanel *ValidationResult `json:"cpanel"`
	FTP    *FTPStatus        `json:"ftp,omitempty"`
}

func (r *ValidationReport) Valid() bool {
	return r != nil && r.CPanel != nil && r.CPanel.Valid
}

// CredentialService validates hosting logins and keeps them in the
// credential store, passwords sealed when a secret key is configured.
type CredentialService struct {
	store     store.CredentialStore
	connector HostingConnector
	box       *secrets.Box
	log       *zap.Logger
	now       func() time.Time
}

func NewCredentialService(st store.CredentialStore, connector HostingConnector, box *secrets.Box, log *zap.Logger) *CredentialService {
	return &CredentialService{
		store:     st,
		connector: connector,
		box:       box,
		log:       log.Named("credentials"),
		now:       time.Now,
	}
}

// Validate probes the control panel and, when that succeeds, the FTP login.
func (s *CredentialService) Validate(ctx context.Context, in CredentialInput, rep *notify.Reporter) (*ValidationReport, error) {
	acct := in.account()
	rep.Start("Validating credentials for " + acct.Username + "@" + acct.Host)
	res, err := s.connector.Validate(ctx, acct, rep)
	if err != nil {
		return nil, err
	}
	report := &ValidationReport{CPanel: res}
	if !res.Valid {
		return report, nil
	}

	fa, err := s.connector.FTPCredentials(ctx, acct, rep)
	if err != nil {
		report.FTP = &FTPStatus{Error: err.Error()}
		return report, nil
	}
	report.FTP = &FTPStatus{Verified: true, Account: fa}
	return report, nil
}

// Save validates in and persists it only when validation passes. A failed
// validation returns a nil credential and the report.
func (s *CredentialService) Save(ctx context.Context, in CredentialInput, rep *notify.Reporter) (*models.Credential, *ValidationReport, error) {
	report, err := s.Validate(ctx, in, rep)
	if err != nil {
		return nil, nil, err
	}
	if !report.Valid() {
		return nil, report, nil
	}

	acct := in.account()
	sealed, err := s.box.Seal(acct.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("seal password: %w", err)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		name = acct.Username + "@" + acct.hostname()
	}
	now := s.now().UTC()
	cred := &models.Credential{
		ID:          uuid.NewString(),
		Name:        name,
		Host:        acct.Host,
		Username:    acct.Username,
		Password:    sealed,
		Port:        acct.Port,
		ValidatedAt: now,
		CreatedAt:   now,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return nil, nil, err
	}
	s.log.Info("credential saved", zap.String("credential_id", cred.ID), zap.String("host", cred.Host))

	cred.Password = acct.Password
	return cred, report, nil
}

// Get returns the credential with its password opened.
func (s *CredentialService) Get(ctx context.Context, id string) (*models.Credential, error) {
	cred, err := s.store.GetCredential(ctx, id)
	if err != nil {
		return nil, err
	}
	cred.Password, err = s.box.Open(cred.Password)
	if err != nil {
		return nil, fmt.Errorf("credential %s: %w", id, err)
	}
	return cred, nil
}

func (s *CredentialService) List(ctx context.Context) ([]models.CredentialSummary, error) {
	return s.store.ListCredentials(ctx)
}

func (s *CredentialService) Delete(ctx context.Context, id string) error {
	return s.store.DeleteCredential(ctx, id)
}

func (s *CredentialService) Touch(ctx context.Context, id string) error {
	return s.store.TouchCredential(ctx, id, s.now().UTC())
}
