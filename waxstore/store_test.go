package waxstore

import (
	"path/filepath"
	"testing"
)

func TestCreatePutCommitRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")

	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	id, err := s.Put(PutInput{Content: []byte("hello waxrag"), HasKind: true, Kind: "note"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first frame id 0, got %d", id)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	content, err := s.FrameContent(id)
	if err != nil {
		t.Fatalf("frame_content: %v", err)
	}
	if string(content) != "hello waxrag" {
		t.Fatalf("unexpected content: %q", content)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, true)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reopened.Close()

	meta, err := reopened.FrameMeta(id)
	if err != nil {
		t.Fatalf("frame_meta after reopen: %v", err)
	}
	if !meta.HasKind || meta.Kind != "note" {
		t.Fatalf("unexpected meta after reopen: %+v", meta)
	}
	content2, err := reopened.FrameContent(id)
	if err != nil {
		t.Fatalf("frame_content after reopen: %v", err)
	}
	if string(content2) != "hello waxrag" {
		t.Fatalf("content mismatch after reopen: %q", content2)
	}
}

func TestLargeFramePayloadIsCompressed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")

	s, err := Create(path, CreateOptions{WalSize: 256 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	big := make([]byte, compressThreshold*4)
	for i := range big {
		big[i] = byte('a' + i%7)
	}
	id, err := s.Put(PutInput{Content: big})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	meta, err := s.FrameMeta(id)
	if err != nil {
		t.Fatalf("frame_meta: %v", err)
	}
	if meta.CanonicalEncoding != 1 { // EncodingCompressed
		t.Fatalf("expected large payload to be compressed, got encoding %d", meta.CanonicalEncoding)
	}
	content, err := s.FrameContent(id)
	if err != nil {
		t.Fatalf("frame_content: %v", err)
	}
	if len(content) != len(big) {
		t.Fatalf("decompressed length mismatch: got %d want %d", len(content), len(big))
	}
}

func TestDeleteAndSupersede(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	id0, _ := s.Put(PutInput{Content: []byte("v1")})
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	id1, _ := s.Put(PutInput{Content: []byte("v2")})
	if err := s.Supersede(id1, id0); err != nil {
		t.Fatalf("supersede: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit 2: %v", err)
	}

	old, err := s.FrameMeta(id0)
	if err != nil {
		t.Fatalf("frame_meta old: %v", err)
	}
	if old.Status != 1 { // StatusDeleted
		t.Fatalf("expected superseded frame to be marked deleted, got status %d", old.Status)
	}
	if !old.HasSupersededBy || old.SupersededBy != id1 {
		t.Fatalf("expected supersededBy link, got %+v", old)
	}

	if err := s.Delete(id1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit 3: %v", err)
	}
	latest, err := s.FrameMeta(id1)
	if err != nil {
		t.Fatalf("frame_meta latest: %v", err)
	}
	if latest.Status != 1 {
		t.Fatalf("expected deleted frame status, got %d", latest.Status)
	}
}

func TestSupersedeCycleRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	a, _ := s.Put(PutInput{Content: []byte("a")})
	b, _ := s.Put(PutInput{Content: []byte("b")})
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.Supersede(b, a); err != nil {
		t.Fatalf("supersede b<-a: %v", err)
	}
	if err := s.Supersede(a, b); err == nil {
		t.Fatalf("expected cycle rejection for supersede a<-b after b<-a")
	}
}

func TestSupersedeConflictingInEdgeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	a, _ := s.Put(PutInput{Content: []byte("a")})
	b, _ := s.Put(PutInput{Content: []byte("b")})
	c, _ := s.Put(PutInput{Content: []byte("c")})
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.Supersede(b, a); err != nil {
		t.Fatalf("supersede b<-a: %v", err)
	}
	if err := s.Supersede(c, a); err == nil {
		t.Fatalf("expected rejection: a already has an in-edge from b")
	}
}

func TestSupersedeConflictingOutEdgeRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	a, _ := s.Put(PutInput{Content: []byte("a")})
	b, _ := s.Put(PutInput{Content: []byte("b")})
	c, _ := s.Put(PutInput{Content: []byte("c")})
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	if err := s.Supersede(c, a); err != nil {
		t.Fatalf("supersede c<-a: %v", err)
	}
	if err := s.Supersede(c, b); err == nil {
		t.Fatalf("expected rejection: c already supersedes a, can't also supersede b")
	}
}

func TestWriterLeaseBusy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	if _, err := Open(path, true); err == nil {
		t.Fatalf("expected second open to fail while the writer lease is held")
	}
}

func TestReopenAfterLeaseRelease(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.Put(PutInput{Content: []byte("x")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path, true)
	if err != nil {
		t.Fatalf("reopen after release: %v", err)
	}
	reopened.Close()
}

func TestVerifyDetectsNothingOnCleanStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	for _, c := range []string{"one", "two", "three"} {
		if _, err := s.Put(PutInput{Content: []byte(c)}); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	report, err := s.Verify(true)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if report.FramesChecked != 3 {
		t.Fatalf("expected 3 frames checked, got %d", report.FramesChecked)
	}
}

func TestVerifyDetectsCorruptedCompressedPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 256 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer s.Close()

	big := make([]byte, compressThreshold*4)
	for i := range big {
		big[i] = byte('a' + i%7)
	}
	id, err := s.Put(PutInput{Content: big})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	meta, err := s.FrameMeta(id)
	if err != nil {
		t.Fatalf("frame_meta: %v", err)
	}
	if meta.CanonicalEncoding == 0 { // EncodingPlain
		t.Fatalf("expected large payload to be compressed")
	}

	// Flip a single on-disk byte within the compressed payload. The
	// canonical (decompressed) bytes and their checksum are never
	// touched by this write; only the stored checksum over the raw
	// compressed bytes can catch it.
	s.mu.Lock()
	buf := make([]byte, 1)
	if _, err := s.file.ReadAt(buf, int64(meta.PayloadOffset)); err != nil {
		s.mu.Unlock()
		t.Fatalf("read payload byte: %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := s.file.WriteAt(buf, int64(meta.PayloadOffset)); err != nil {
		s.mu.Unlock()
		t.Fatalf("write payload byte: %v", err)
	}
	s.cache.invalidate(id)
	s.mu.Unlock()

	report, err := s.Verify(true)
	if err == nil {
		t.Fatalf("expected verify to detect corrupted compressed payload")
	}
	if len(report.Errors) == 0 {
		t.Fatalf("expected at least one verify error")
	}
}

func TestRecoveryAfterFailpointReplaysWalOnOldGeneration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wax.mv2s")
	s, err := Create(path, CreateOptions{WalSize: 64 * 1024})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := s.Put(PutInput{Content: []byte("base")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Commit(); err != nil {
		t.Fatalf("commit base: %v", err)
	}

	if _, err := s.Put(PutInput{Content: []byte("pending")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	s.SetFailpoint(1) // stop right after the toc write, before footer/headers
	if err := s.Commit(); err == nil {
		t.Fatalf("expected simulated failure at failpoint 1")
	}
	if err := s.file.Close(); err != nil {
		t.Fatalf("close underlying file: %v", err)
	}
	if err := s.ls.release(); err != nil {
		t.Fatalf("release lease: %v", err)
	}

	reopened, err := Open(path, true)
	if err != nil {
		t.Fatalf("open after simulated crash: %v", err)
	}
	defer reopened.Close()

	metas := reopened.FrameMetas()
	if len(metas) != 2 {
		t.Fatalf("expected wal replay to recover the pending frame, got %d live frames", len(metas))
	}
}
