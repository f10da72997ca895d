package intake

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	listPageSize      = 100
	expiryWarningDays = 7
)

// DriveSource reads invoice assets from a Google Drive folder. An email
// forwarder or phone sync deposits photos and PDFs there; this source never
// deletes anything, it only tracks what has been processed.
//
// Authentication uses a static bearer token. Refreshing it is the
// deployment's problem; AuthHealth surfaces when it is about to become one.
type DriveSource struct {
	service   *drive.Service
	folderID  string
	processed *ProcessedSet
	hasToken  bool
	expiry    time.Time
}

// NewDriveSource connects to Drive with a static access token. expiry may be
// zero when unknown.
func NewDriveSource(ctx context.Context, token string, expiry time.Time, folderID string, processed *ProcessedSet) (*DriveSource, error) {
	tokenSource := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, Expiry: expiry})

	service, err := drive.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("creating drive client: %w", err)
	}

	return &DriveSource{
		service:   service,
		folderID:  folderID,
		processed: processed,
		hasToken:  token != "",
		expiry:    expiry,
	}, nil
}

// NewDriveSourceWithService wires a preconfigured Drive client, used by
// tests to point the source at a fake server.
func NewDriveSourceWithService(service *drive.Service, folderID string, processed *ProcessedSet) *DriveSource {
	return &DriveSource{
		service:   service,
		folderID:  folderID,
		processed: processed,
		hasToken:  true,
	}
}

// ListNewAssets returns the folder's unprocessed photos and PDFs, oldest
// first.
func (s *DriveSource) ListNewAssets(ctx context.Context) ([]Asset, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false and (mimeType contains 'image/' or mimeType = 'application/pdf')", s.folderID)

	var assets []Asset
	pageToken := ""
	for {
		call := s.service.Files.List().
			Q(query).
			OrderBy("createdTime").
			PageSize(listPageSize).
			Fields("files(id, name, mimeType, createdTime)", "nextPageToken")
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		list, err := call.Context(ctx).Do()
		if err != nil {
			return nil, fmt.Errorf("listing drive folder: %w", err)
		}

		for _, file := range list.Files {
			seen, err := s.processed.Contains(file.Id)
			if err != nil {
				return nil, err
			}
			if seen {
				continue
			}

			created, err := time.Parse(time.RFC3339, file.CreatedTime)
			if err != nil {
				created = time.Time{}
			}

			assets = append(assets, Asset{
				ID:           file.Id,
				Filename:     file.Name,
				MimeType:     file.MimeType,
				CreationTime: created,
			})
		}

		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	return assets, nil
}

// Download fetches the raw content of an asset.
func (s *DriveSource) Download(ctx context.Context, asset Asset) ([]byte, error) {
	resp, err := s.service.Files.Get(asset.ID).Context(ctx).Download()
	if err != nil {
		return nil, fmt.Errorf("downloading %s: %w", asset.Filename, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", asset.Filename, err)
	}

	return data, nil
}

// MarkProcessed records that an asset has been handled.
func (s *DriveSource) MarkProcessed(id string) error {
	return s.processed.Add(id)
}

// UnmarkProcessed releases an asset for reprocessing.
func (s *DriveSource) UnmarkProcessed(id string) error {
	return s.processed.Remove(id)
}

// AuthHealth reports missing or expiring credentials before probing the API,
// then verifies the token actually works with a minimal list call.
func (s *DriveSource) AuthHealth(ctx context.Context) (AuthHealth, error) {
	if !s.hasToken {
		return AuthHealth{Status: AuthMissing, Message: "no access token configured"}, nil
	}

	now := time.Now()
	if !s.expiry.IsZero() {
		if s.expiry.Before(now) {
			return AuthHealth{Status: AuthExpired, Message: "access token expired " + s.expiry.Format(time.RFC3339)}, nil
		}
		if s.expiry.Before(now.Add(expiryWarningDays * 24 * time.Hour)) {
			return AuthHealth{Status: AuthExpiring, Message: "access token expires " + s.expiry.Format(time.RFC3339)}, nil
		}
	}

	_, err := s.service.Files.List().PageSize(1).Fields("files(id)").Context(ctx).Do()
	if err != nil {
		var apiErr *googleapi.Error
		if errors.As(err, &apiErr) && (apiErr.Code == http.StatusUnauthorized || apiErr.Code == http.StatusForbidden) {
			return AuthHealth{Status: AuthExpired, Message: apiErr.Message}, nil
		}
		return AuthHealth{}, fmt.Errorf("checking source auth: %w", err)
	}

	return AuthHealth{Status: AuthOK}, nil
}
