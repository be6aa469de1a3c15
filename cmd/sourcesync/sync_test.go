package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sourcesync/internal/ingest"
	"github.com/JakeFAU/sourcesync/internal/lifecycle"
	"github.com/JakeFAU/sourcesync/internal/scheduler"
	"github.com/JakeFAU/sourcesync/internal/server"
)

func TestPrintSyncReport(t *testing.T) {
	t.Parallel()

	next := time.Date(2025, 3, 8, 12, 0, 0, 0, time.UTC)
	stale := "previous failure"
	source := ingest.Source{
		ID:             "src-1",
		Name:           "Blog",
		NextSync:       next,
		TotalDocuments: 7,
		SyncErrors:     2,
		LastError:      &stale,
	}

	cases := []struct {
		name    string
		result  scheduler.Result
		want    string
		wantErr bool
	}{
		{
			name:   "success",
			result: scheduler.Result{Documents: 3, State: lifecycle.StateCooldown},
			want:   "Blog (src-1): 3 new documents, 7 total, next sync 2025-03-08T12:00:00Z\n",
		},
		{
			name:    "discarded",
			result:  scheduler.Result{Discarded: true, State: lifecycle.StatePaused},
			want:    "Blog (src-1): skipped, source is paused\n",
			wantErr: true,
		},
		{
			name:    "collection failed",
			result:  scheduler.Result{Err: errors.New("feed returned 503"), State: lifecycle.StateErroring},
			want:    "Blog (src-1): failed: feed returned 503 (consecutive errors: 2)\n",
			wantErr: true,
		},
		{
			name:    "outcome not recorded",
			result:  scheduler.Result{Documents: 3, Err: errors.New("record sync: db down")},
			want:    "Blog (src-1): failed: record sync: db down\n",
			wantErr: true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			err := printSyncReport(&out, server.SyncReport{Result: tc.result, Source: source})
			require.Equal(t, tc.want, out.String())
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
}
