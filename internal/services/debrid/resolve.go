// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package debrid

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// Phase is the coarse remote state the monitor acts on.
type Phase string

const (
	PhaseTransferring Phase = "transferring"
	PhaseReady        Phase = "ready"
	PhaseFailed       Phase = "failed"
)

// Status is one observation of a remote resolution.
type Status struct {
	Phase        Phase   `json:"phase"`
	RemoteStatus string  `json:"remoteStatus"`
	Progress     float64 `json:"progress"`
	DirectLink   string  `json:"directLink,omitempty"`
	Filename     string  `json:"filename,omitempty"`
	Bytes        int64   `json:"bytes"`
	Speed        int64   `json:"speed"`
}

// Resolver is the part of the debrid API the download pipeline needs.
type Resolver interface {
	Submit(ctx context.Context, handle string) (string, error)
	PollStatus(ctx context.Context, id string) (Status, error)
	Cancel(ctx context.Context, id string) error
}

// Direct links have no remote job. Their resolution id carries the link so
// a restart can unrestrict it again.
const linkIDPrefix = "link:"

func encodeLinkID(link string) string {
	return linkIDPrefix + base64.RawURLEncoding.EncodeToString([]byte(link))
}

func decodeLinkID(id string) (string, bool) {
	if !strings.HasPrefix(id, linkIDPrefix) {
		return "", false
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(id, linkIDPrefix))
	if err != nil {
		return "", false
	}
	return string(raw), true
}

func mapRemoteStatus(status string) Phase {
	switch status {
	case "downloaded":
		return PhaseReady
	case "magnet_error", "error", "virus", "dead":
		return PhaseFailed
	default:
		// magnet_conversion, waiting_files_selection, queued, downloading,
		// compressing, uploading
		return PhaseTransferring
	}
}

// Submit hands a magnet or direct link to the remote service and returns the
// resolution id to poll.
func (c *Client) Submit(ctx context.Context, handle string) (string, error) {
	handle = strings.TrimSpace(handle)
	lower := strings.ToLower(handle)

	switch {
	case strings.HasPrefix(lower, "magnet:"):
		var id string
		err := c.retry(ctx, "addMagnet", func() error {
			var err error
			id, err = c.AddMagnet(ctx, handle)
			return err
		})
		if err != nil {
			return "", err
		}

		err = c.retry(ctx, "selectFiles", func() error {
			return c.SelectFiles(ctx, id, "all")
		})
		if err != nil {
			// Leave nothing behind on the account for a submit the caller sees as failed.
			if delErr := c.DeleteTorrent(context.WithoutCancel(ctx), id); delErr != nil {
				c.log.Debug().Err(delErr).Str("remote_id", id).Msg("Failed to delete torrent after select failure")
			}
			return "", err
		}

		c.log.Debug().Str("remote_id", id).Msg("Submitted magnet")
		return id, nil

	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		err := c.retry(ctx, "unrestrict", func() error {
			_, err := c.UnrestrictLink(ctx, handle)
			return err
		})
		if err != nil {
			return "", err
		}
		return encodeLinkID(handle), nil
	}

	return "", fmt.Errorf("%w: %q", ErrUnsupportedHandle, truncate(handle, 32))
}

// PollStatus fetches the remote state. A downloaded torrent has its first
// hoster link unrestricted so DirectLink is set once Phase is ready.
func (c *Client) PollStatus(ctx context.Context, id string) (Status, error) {
	if link, ok := decodeLinkID(id); ok {
		res, err := c.UnrestrictLink(ctx, link)
		if err != nil {
			return Status{}, err
		}
		return Status{
			Phase:        PhaseReady,
			RemoteStatus: "downloaded",
			Progress:     100,
			DirectLink:   res.Download,
			Filename:     res.Filename,
			Bytes:        res.Filesize,
		}, nil
	}

	info, err := c.TorrentInfo(ctx, id)
	if err != nil {
		return Status{}, err
	}

	st := Status{
		Phase:        mapRemoteStatus(info.Status),
		RemoteStatus: info.Status,
		Progress:     clampProgress(info.Progress),
		Filename:     info.Filename,
		Bytes:        info.Bytes,
		Speed:        info.Speed,
	}

	switch st.Phase {
	case PhaseFailed:
		return st, &ResolutionError{ID: id, Status: info.Status}
	case PhaseReady:
		if len(info.Links) == 0 {
			return Status{}, fmt.Errorf("%w: torrent %s is downloaded but has no links", ErrMalformedResponse, id)
		}
		res, err := c.UnrestrictLink(ctx, info.Links[0])
		if err != nil {
			return Status{}, err
		}
		st.Progress = 100
		st.DirectLink = res.Download
		if res.Filename != "" {
			st.Filename = res.Filename
		}
		if res.Filesize > 0 {
			st.Bytes = res.Filesize
		}
	}
	return st, nil
}

// Cancel deletes the remote torrent. Direct links have nothing to delete, and
// an already missing torrent counts as canceled.
func (c *Client) Cancel(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, ok := decodeLinkID(id); ok {
		return nil
	}

	err := c.DeleteTorrent(ctx, id)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
		return nil
	}
	return err
}

func clampProgress(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
