package orchestrator

import (
	"github.com/waxrag/waxrag/codec"
	"github.com/waxrag/waxrag/waxerr"
)

// internalJournalKind tags a frame as an internal structured-memory
// journal record so Recall's lane scans exclude it from text/vector
// candidates.
const internalJournalKind = "waxrag.journal.fact"

// Journal record prefixes: WAXEM1 ("remember") tags an upsert, WAXFACT1
// ("forget") tags a remove. Both carry the same {entity, attribute,
// value?, metadata?} body; only the prefix and the presence of value
// distinguish the op on replay.
const (
	journalUpsertPrefix = "WAXEM1"
	journalRemovePrefix = "WAXFACT1"
)

type journalOp int

const (
	journalOpUpsert journalOp = iota
	journalOpRemove
)

type journalRecord struct {
	Op        journalOp
	Entity    string
	Attribute string
	Value     string
	Metadata  map[string]string
}

func encodeJournal(rec journalRecord) []byte {
	prefix := journalUpsertPrefix
	if rec.Op == journalOpRemove {
		prefix = journalRemovePrefix
	}
	b := codec.NewBuffer(64 + len(rec.Value))
	b.WriteBytes([]byte(prefix))
	b.WriteString(rec.Entity)
	b.WriteString(rec.Attribute)
	if rec.Op == journalOpUpsert {
		b.WriteString(rec.Value)
		b.WriteU32(uint32(len(rec.Metadata)))
		for k, v := range rec.Metadata {
			b.WriteString(k)
			b.WriteString(v)
		}
	}
	return b.Bytes()
}

func decodeJournal(raw []byte) (journalRecord, error) {
	const op = "orchestrator: decode_journal"
	var rec journalRecord
	var prefixLen int
	switch {
	case hasPrefix(raw, journalUpsertPrefix):
		rec.Op = journalOpUpsert
		prefixLen = len(journalUpsertPrefix)
	case hasPrefix(raw, journalRemovePrefix):
		rec.Op = journalOpRemove
		prefixLen = len(journalRemovePrefix)
	default:
		return rec, waxerr.New(op, waxerr.KindCorruption, "unrecognized journal prefix")
	}
	r := codec.NewReader(raw[prefixLen:])
	var err error
	if rec.Entity, err = r.ReadString(); err != nil {
		return rec, err
	}
	if rec.Attribute, err = r.ReadString(); err != nil {
		return rec, err
	}
	if rec.Op == journalOpRemove {
		return rec, nil
	}
	if rec.Value, err = r.ReadString(); err != nil {
		return rec, err
	}
	count, err := r.ReadU32()
	if err != nil {
		return rec, err
	}
	if count > 0 {
		rec.Metadata = make(map[string]string, count)
		for i := uint32(0); i < count; i++ {
			k, err := r.ReadString()
			if err != nil {
				return rec, err
			}
			v, err := r.ReadString()
			if err != nil {
				return rec, err
			}
			rec.Metadata[k] = v
		}
	}
	return rec, nil
}

func hasPrefix(raw []byte, prefix string) bool {
	return len(raw) >= len(prefix) && string(raw[:len(prefix)]) == prefix
}
