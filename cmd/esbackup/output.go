package main

import (
	"io"
	"time"

	"github.com/goccy/go-json"

	"github.com/rowjay/esdb-backup/internal/app"
	"github.com/rowjay/esdb-backup/internal/journal"
	"github.com/rowjay/esdb-backup/internal/store"
)

const createdLayout = "2006-01-02 15:04:05"

type failureResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type backupResponse struct {
	File string `json:"file"`
}

type restoreResponse struct {
	Success  bool     `json:"success"`
	Archive  string   `json:"archive,omitempty"`
	Degraded bool     `json:"degraded,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

type listEntry struct {
	Filename    string `json:"filename"`
	Version     string `json:"version"`
	Size        string `json:"size"`
	SizeBytes   int64  `json:"size_bytes"`
	CreatedDate string `json:"created_date"`
	FullPath    string `json:"full_path"`
	Encrypted   bool   `json:"encrypted,omitempty"`
}

type listResponse struct {
	Success        bool        `json:"success"`
	Backups        []listEntry `json:"backups"`
	TotalCount     int         `json:"total_count"`
	TotalSizeBytes int64       `json:"total_size_bytes"`
	TotalSize      string      `json:"total_size"`
}

func newListResponse(res *app.ListResult) listResponse {
	out := listResponse{
		Success:        true,
		Backups:        make([]listEntry, 0, len(res.Archives)),
		TotalCount:     res.Summary.Count,
		TotalSizeBytes: res.Summary.TotalBytes,
		TotalSize:      res.Summary.HumanTotal(),
	}
	for _, a := range res.Archives {
		out.Backups = append(out.Backups, listEntry{
			Filename:    a.Name,
			Version:     a.Version,
			Size:        a.HumanSize(),
			SizeBytes:   a.Size,
			CreatedDate: a.Created.Format(createdLayout),
			FullPath:    a.Path,
		})
	}
	return out
}

func newOffsiteListResponse(copies []app.OffsiteCopy) listResponse {
	archives := make([]store.Archive, 0, len(copies))
	out := listResponse{Success: true, Backups: make([]listEntry, 0, len(copies))}
	for _, c := range copies {
		a := store.Archive{Name: c.Archive, Size: c.Size, Created: c.Modified, Version: c.Version}
		if created, err := store.ParseArchiveName(c.Archive); err == nil {
			a.Created = created
		}
		archives = append(archives, a)
		out.Backups = append(out.Backups, listEntry{
			Filename:    c.Archive,
			Version:     c.Version,
			Size:        a.HumanSize(),
			SizeBytes:   c.Size,
			CreatedDate: a.Created.Format(createdLayout),
			FullPath:    c.Key,
			Encrypted:   c.Encrypted,
		})
	}
	sum := store.Summarize(archives)
	out.TotalCount = sum.Count
	out.TotalSizeBytes = sum.TotalBytes
	out.TotalSize = sum.HumanTotal()
	return out
}

type statusResponse struct {
	Success       bool            `json:"success"`
	DataDir       string          `json:"data_dir"`
	FreshInstall  bool            `json:"fresh_install"`
	Checkpoints   int             `json:"checkpoints"`
	Chunks        int             `json:"chunks"`
	IndexEntries  int             `json:"index_entries"`
	Service       string          `json:"service"`
	ServerRunning bool            `json:"server_running"`
	ServerHealthy bool            `json:"server_healthy"`
	ServerError   string          `json:"server_error,omitempty"`
	LockPID       int             `json:"lock_pid,omitempty"`
	LockAlive     bool            `json:"lock_alive,omitempty"`
	BackupCount   int             `json:"backup_count"`
	BackupBytes   int64           `json:"backup_size_bytes"`
	BackupSize    string          `json:"backup_size"`
	LatestBackup  string          `json:"latest_backup,omitempty"`
	LatestAt      *time.Time      `json:"latest_backup_at,omitempty"`
	Snapshots     []string        `json:"rollback_snapshots"`
	Recent        []journalRecord `json:"recent_operations"`
	LastBackup    *journalRecord  `json:"last_backup,omitempty"`
}

type journalRecord struct {
	Operation string    `json:"operation"`
	Status    string    `json:"status"`
	Archive   string    `json:"archive,omitempty"`
	Error     string    `json:"error,omitempty"`
	EndedAt   time.Time `json:"ended_at"`
}

func newStatusResponse(rep *app.StatusReport) statusResponse {
	out := statusResponse{
		Success:       true,
		DataDir:       rep.DataDir,
		FreshInstall:  rep.Fresh,
		Checkpoints:   len(rep.Inventory.Checkpoints),
		Chunks:        len(rep.Inventory.Chunks),
		IndexEntries:  rep.Inventory.IndexEntries,
		Service:       rep.Service,
		ServerRunning: rep.ServerRunning,
		ServerHealthy: rep.ServerHealthy,
		ServerError:   rep.ServerError,
		BackupCount:   rep.Archives.Count,
		BackupBytes:   rep.Archives.TotalBytes,
		BackupSize:    rep.Archives.HumanTotal(),
		Snapshots:     []string{},
		Recent:        []journalRecord{},
	}
	if rep.Lock != nil {
		out.LockPID = rep.Lock.PID
		out.LockAlive = rep.Lock.Alive
	}
	if rep.Latest != nil {
		out.LatestBackup = rep.Latest.Name
		created := rep.Latest.Created
		out.LatestAt = &created
	}
	for _, s := range rep.Snapshots {
		out.Snapshots = append(out.Snapshots, s.Path)
	}
	for _, e := range rep.Recent {
		out.Recent = append(out.Recent, newJournalRecord(e))
	}
	if rep.LastBackup != nil {
		last := newJournalRecord(*rep.LastBackup)
		out.LastBackup = &last
	}
	return out
}

func newJournalRecord(e journal.Entry) journalRecord {
	return journalRecord{
		Operation: e.Operation,
		Status:    e.Status,
		Archive:   e.Archive,
		Error:     e.Error,
		EndedAt:   e.EndedAt,
	}
}

// writeJSON writes exactly one JSON document followed by a newline.
func writeJSON(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}
