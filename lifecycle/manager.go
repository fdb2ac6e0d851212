package lifecycle

import (
	"context"
	"image"
	"sort"
	"sync"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// FrameInput is everything the manager needs from a single processed frame
type FrameInput struct {
	Timestamp time.Time
	// Image is optional. Without it neither enrichment nor visual re-identification happen
	Image  image.Image
	Tracks []*mot.Track
	// Face detections of the frame
	Faces []mot.Detection
}

// Stats holds lifecycle counters
type Stats struct {
	Active              int
	Lost                int
	Created             int
	Recovered           int
	Finalized           int
	Discarded           int
	InferenceDispatched int
	InferenceCompleted  int
	InferenceFailed     int
	InferenceTimedOut   int
	InferenceRejected   int
	ResultsDiscarded    int
	Persisted           int64
	PersistFailures     int64
	PersistDropped      int64
}

// Manager owns identities of a single stream.
//
// Every identity lives in one map keyed by uuid; its Status tells whether it is Active
// (bound to a live track through byTrack index) or Lost. All reads and writes of identities
// happen under mu, both from the frame loop and from background inference workers.
type Manager struct {
	cfg        Config
	attributes AttributeExtractor
	embeddings EmbeddingExtractor
	sink       RecordSink
	log        logrus.FieldLogger

	mu         sync.Mutex
	identities map[string]*Identity
	byTrack    map[int]string
	stats      Stats
	lastFrame  time.Time
	tokens     uint64
	closed     bool

	pool      *workerPool
	persister *persister
}

// Option configures Manager
type Option func(*Manager)

// WithAttributeExtractor sets face-attribute inference used for enrichment
func WithAttributeExtractor(extractor AttributeExtractor) Option {
	return func(m *Manager) {
		m.attributes = extractor
	}
}

// WithEmbeddingExtractor sets embedding model used for re-identification
func WithEmbeddingExtractor(extractor EmbeddingExtractor) Option {
	return func(m *Manager) {
		m.embeddings = extractor
	}
}

// WithSink sets durable storage for finalized records
func WithSink(sink RecordSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// WithLogger sets logger
func WithLogger(log logrus.FieldLogger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

// NewManager creates manager and starts its background workers
func NewManager(cfg Config, options ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid lifecycle configuration")
	}
	m := &Manager{
		cfg:        cfg,
		log:        logrus.StandardLogger(),
		identities: make(map[string]*Identity),
		byTrack:    make(map[int]string),
	}
	for _, option := range options {
		option(m)
	}
	if cfg.StreamID != "" {
		m.log = m.log.WithField("stream", cfg.StreamID)
	}
	m.pool = newWorkerPool(cfg.Workers, cfg.QueueSize)
	m.persister = newPersister(m.sink, cfg.PersistQueueSize, cfg.PersistTimeout, m.log)
	return m, nil
}

// Config returns manager configuration
func (m *Manager) Config() Config {
	return m.cfg
}

type intake struct {
	track     *mot.Track
	embedding []float64
}

// Update advances identities by one frame: binds new tracks, marks absent identities as lost,
// schedules enrichment and finalizes due lost identities. Finalized records are returned
// and handed to the sink asynchronously; Update never waits for the sink and drops records
// when the persist queue is full.
func (m *Manager) Update(ctx context.Context, frame FrameInput) []*Record {
	now := frame.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	present := make(map[int]*mot.Track, len(frame.Tracks))
	ordered := make([]*mot.Track, 0, len(frame.Tracks))
	for _, track := range frame.Tracks {
		if !track.Matched() || !m.identityClass(track.Class()) {
			continue
		}
		present[track.ID()] = track
		ordered = append(ordered, track)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.lastFrame = now
	var fresh []*mot.Track
	for _, track := range ordered {
		if id, ok := m.byTrack[track.ID()]; ok {
			m.refresh(m.identities[id], track, now)
			continue
		}
		fresh = append(fresh, track)
	}
	m.mu.Unlock()

	// Embedding inference runs without holding the lock
	intakes := make([]intake, len(fresh))
	for i, track := range fresh {
		intakes[i] = intake{
			track:     track,
			embedding: m.extractEmbedding(ctx, frame.Image, track),
		}
	}

	m.mu.Lock()
	for _, in := range intakes {
		m.admit(in, now)
	}
	m.markLost(present, now)
	jobs := m.scheduleEnrichment(frame, ordered, now)
	records := m.sweep(now)
	m.mu.Unlock()

	m.dispatch(frame.Image, jobs)
	for _, record := range records {
		m.persister.tryEnqueue(record)
	}
	return records
}

func (m *Manager) identityClass(class mot.DetectionClass) bool {
	if len(m.cfg.IdentityClasses) == 0 {
		return true
	}
	for _, c := range m.cfg.IdentityClasses {
		if c == class {
			return true
		}
	}
	return false
}

func (m *Manager) refresh(identity *Identity, track *mot.Track, now time.Time) {
	identity.BBox = track.BBox()
	identity.appendTrail(track.BBox(), m.cfg.TrailDepth)
	identity.LastSeen = now
	identity.FramesSeen++
	identity.VelocityX, identity.VelocityY = track.Velocity()
}

// admit binds a track without identity: recovers a lost identity or creates a new one
func (m *Manager) admit(in intake, now time.Time) {
	track := in.track
	if identity := m.lostByTrack(track.ID()); identity != nil {
		m.recover(identity, in, now, 0)
		return
	}
	if in.embedding != nil {
		if identity, distance := m.closestLost(in.embedding); identity != nil && distance < m.cfg.ReIDDistanceThreshold {
			m.recover(identity, in, now, distance)
			return
		}
	}

	identity := &Identity{
		UUID:           uuid.NewString(),
		Status:         StatusActive,
		OriginTrackID:  track.ID(),
		CurrentTrackID: track.ID(),
		HasTrack:       true,
		LastTrackID:    track.ID(),
		Embedding:      in.embedding,
		BBox:           track.BBox(),
		FirstSeen:      now,
		LastSeen:       now,
		FramesSeen:     1,
		EventLog:       []string{EventDetected},
	}
	for _, bbox := range track.Trail() {
		identity.appendTrail(bbox, m.cfg.TrailDepth)
	}
	identity.VelocityX, identity.VelocityY = track.Velocity()
	m.identities[identity.UUID] = identity
	m.byTrack[track.ID()] = identity.UUID
	m.stats.Created++
	m.log.WithFields(logrus.Fields{"uuid": identity.UUID, "track_id": track.ID()}).Debug("Identity created")
}

// lostByTrack finds lost identity whose last track reappeared
func (m *Manager) lostByTrack(trackID int) *Identity {
	for _, identity := range m.identities {
		if identity.Status == StatusLost && identity.LastTrackID == trackID {
			return identity
		}
	}
	return nil
}

// closestLost returns lost identity with minimal cosine distance to embedding
func (m *Manager) closestLost(embedding []float64) (*Identity, float64) {
	var best *Identity
	bestDistance := 0.0
	for _, identity := range m.identities {
		if identity.Status != StatusLost || len(identity.Embedding) == 0 {
			continue
		}
		distance := mot.CosineDistance(embedding, identity.Embedding)
		if best == nil || distance < bestDistance || (distance == bestDistance && identity.LostSince.After(best.LostSince)) {
			best = identity
			bestDistance = distance
		}
	}
	return best, bestDistance
}

func (m *Manager) recover(identity *Identity, in intake, now time.Time, distance float64) {
	track := in.track
	identity.Status = StatusActive
	identity.CurrentTrackID = track.ID()
	identity.HasTrack = true
	identity.LastTrackID = track.ID()
	identity.LostSince = time.Time{}
	if len(identity.Embedding) == 0 && in.embedding != nil {
		identity.Embedding = in.embedding
	}
	identity.log(EventRecovered)
	m.byTrack[track.ID()] = identity.UUID
	m.refresh(identity, track, now)
	m.stats.Recovered++
	m.log.WithFields(logrus.Fields{
		"uuid":     identity.UUID,
		"track_id": track.ID(),
		"distance": distance,
	}).Info("Identity recovered")
}

// markLost moves absent active identities to lost once grace period since first appearance elapsed
func (m *Manager) markLost(present map[int]*mot.Track, now time.Time) {
	for _, identity := range m.identities {
		if identity.Status != StatusActive || !identity.HasTrack {
			continue
		}
		if _, ok := present[identity.CurrentTrackID]; ok {
			continue
		}
		if now.Sub(identity.FirstSeen) < m.cfg.GracePeriod {
			continue
		}
		delete(m.byTrack, identity.CurrentTrackID)
		identity.Status = StatusLost
		identity.HasTrack = false
		identity.LostSince = now
		identity.log(EventLost)
		m.log.WithFields(logrus.Fields{"uuid": identity.UUID, "track_id": identity.LastTrackID}).Debug("Identity lost")
	}
}

// sweep finalizes lost identities which are due. Decision and removal happen under the same lock,
// so an inference completing concurrently is either applied before or discarded after.
func (m *Manager) sweep(now time.Time) []*Record {
	var records []*Record
	for id, identity := range m.identities {
		if identity.Status != StatusLost {
			continue
		}
		if !m.finalizationDue(identity, now) {
			continue
		}
		records = append(records, m.finalize(identity, now))
		delete(m.identities, id)
	}
	sortRecords(records)
	return records
}

func (m *Manager) finalizationDue(identity *Identity, now time.Time) bool {
	if identity.InferenceInProgress {
		if now.Sub(identity.InferenceStartedAt) > m.cfg.InferenceTimeout {
			identity.Error = errInferenceTimedOut
			m.stats.InferenceTimedOut++
			return true
		}
		return false
	}
	if identity.InferenceFailures >= m.cfg.MaxInferenceFailures {
		return true
	}
	return now.Sub(identity.LostSince) > m.cfg.LostTrackCleanupTimeout
}

// Flush finalizes every identity regardless of its state and hands records to the sink
func (m *Manager) Flush(ctx context.Context, now time.Time) []*Record {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	records := m.flushLocked(now)
	m.mu.Unlock()
	for _, record := range records {
		m.persister.enqueue(ctx, record)
	}
	return records
}

func (m *Manager) flushLocked(now time.Time) []*Record {
	records := make([]*Record, 0, len(m.identities))
	for id, identity := range m.identities {
		if identity.Status == StatusActive {
			delete(m.byTrack, identity.CurrentTrackID)
			identity.HasTrack = false
		}
		records = append(records, m.finalize(identity, now))
		delete(m.identities, id)
	}
	sortRecords(records)
	return records
}

// Close waits for background inference, finalizes remaining identities at the time of the last frame
// and waits until every record is handed to the sink. Manager can't be used after Close.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	poolErr := m.pool.close(ctx)

	m.mu.Lock()
	now := m.lastFrame
	if now.IsZero() {
		now = time.Now()
	}
	records := m.flushLocked(now)
	m.mu.Unlock()

	for _, record := range records {
		m.persister.enqueue(context.Background(), record)
	}
	m.persister.close()
	return poolErr
}

// Snapshot returns copies of live identities ordered by origin track
func (m *Manager) Snapshot() []Identity {
	m.mu.Lock()
	defer m.mu.Unlock()
	identities := make([]Identity, 0, len(m.identities))
	for _, identity := range m.identities {
		identities = append(identities, identity.clone())
	}
	sort.Slice(identities, func(i, j int) bool {
		return identities[i].OriginTrackID < identities[j].OriginTrackID
	})
	return identities
}

// IdentityForTrack returns copy of the active identity bound to the track
func (m *Manager) IdentityForTrack(trackID int) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byTrack[trackID]
	if !ok {
		return Identity{}, false
	}
	return m.identities[id].clone(), true
}

// Stats returns lifecycle counters
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	stats := m.stats
	stats.Active, stats.Lost = 0, 0
	for _, identity := range m.identities {
		switch identity.Status {
		case StatusActive:
			stats.Active++
		case StatusLost:
			stats.Lost++
		}
	}
	m.mu.Unlock()
	stats.Persisted = m.persister.persisted.Load()
	stats.PersistFailures = m.persister.failures.Load()
	stats.PersistDropped = m.persister.dropped.Load()
	return stats
}

func sortRecords(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].OriginTrackID != records[j].OriginTrackID {
			return records[i].OriginTrackID < records[j].OriginTrackID
		}
		return records[i].UUID < records[j].UUID
	})
}
