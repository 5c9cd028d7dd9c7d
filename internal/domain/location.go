package domain

import "time"

type Language string

const (
	LangDE Language = "de"
	LangEN Language = "en"
)

// Languages is the fixed set of projections every record is split into.
var Languages = []Language{LangDE, LangEN}

func ParseLanguage(s string) (Language, bool) {
	switch Language(s) {
	case LangDE, LangEN:
		return Language(s), true
	}
	return "", false
}

// RecordKey is the upstream "id" of a record.
type RecordKey string

// ContentHash is the upstream fingerprint of a record.
type ContentHash int64

// RawRecord is one bilingual record of a snapshot. It only lives for one run.
type RawRecord struct {
	Key    RecordKey
	Hash   *ContentHash // nil when the snapshot does not carry hashes
	Fields Mapping
}

// RoomScalars are the directly queryable columns extracted from a projection.
type RoomScalars struct {
	Name            string
	TumonlineRoomNr *int
	Type            *string
	TypeCommonName  *string
	Lat, Lon        float64
}

// StoredProjection is one row of a per-language collection.
type StoredProjection struct {
	Key     RecordKey
	Lang    Language
	Payload []byte // serialized LocaleProjection
	Scalars *RoomScalars
	Hash    *ContentHash
}

// StatusEntry is one row of the lightweight status snapshot.
type StatusEntry struct {
	Key  RecordKey
	Hash ContentHash
}

type SyncMode string

const (
	ModeBatch     SyncMode = "batch"
	ModePerRecord SyncMode = "per-record"
)

func ParseSyncMode(s string) (SyncMode, bool) {
	switch SyncMode(s) {
	case ModeBatch, ModePerRecord:
		return SyncMode(s), true
	}
	return "", false
}

type RunResult struct {
	Mode             SyncMode
	RecordsFetched   int
	RecordsProcessed int
	RecordsFailed    int
	Elapsed          time.Duration
}

// RunRecord is the persisted summary of one sync run.
type RunRecord struct {
	ID         int64
	StartedAt  time.Time
	FinishedAt time.Time
	Mode       SyncMode
	Fetched    int
	Processed  int
	Failed     int
	Outcome    string // ok|partial|failed
	Error      *string
}

// SyncFailure is one failed language write, kept for diagnostics.
type SyncFailure struct {
	Key    RecordKey
	Lang   Language
	Kind   string
	Reason string
}

// Read models

type LocationView struct {
	Key      RecordKey
	Language Language
	Data     []byte // stored payload JSON
	Name     *string
	Hash     *ContentHash
}

type Coords struct {
	Key      RecordKey
	Lat, Lon float64
}
