package lifecycle

import (
	"context"
	"image"
	"time"

	"github.com/LdDl/mot-lifecycle/mot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/image/draw"
)

var ErrEmptyCrop = errors.New("crop region is empty")

type enrichmentJob struct {
	uuid  string
	token uint64
	rect  image.Rectangle
}

// scheduleEnrichment picks a face for every active identity which still needs samples
// and marks identity as having inference in flight. Must be called with mu held.
func (m *Manager) scheduleEnrichment(frame FrameInput, tracks []*mot.Track, now time.Time) []enrichmentJob {
	if m.attributes == nil || frame.Image == nil || len(frame.Faces) == 0 {
		return nil
	}
	bounds := frame.Image.Bounds()
	var jobs []enrichmentJob
	for _, track := range tracks {
		id, ok := m.byTrack[track.ID()]
		if !ok {
			continue
		}
		identity := m.identities[id]
		if identity.InferenceInProgress ||
			len(identity.FeatureSamples) >= m.cfg.MaxSamples ||
			identity.InferenceFailures >= m.cfg.MaxInferenceFailures {
			continue
		}
		face, ok := selectFace(identity.BBox, frame.Faces, m.cfg.MaxFaceDistance, m.cfg.MinFaceScore)
		if !ok {
			continue
		}
		rect := padRect(face.BBox, m.cfg.CropPadding).ImageRect(bounds)
		if rect.Dx() < m.cfg.MinCropSize || rect.Dy() < m.cfg.MinCropSize || rect.Empty() {
			continue
		}
		m.tokens++
		identity.InferenceInProgress = true
		identity.InferenceStartedAt = now
		identity.inferenceToken = m.tokens
		jobs = append(jobs, enrichmentJob{uuid: id, token: m.tokens, rect: rect})
	}
	return jobs
}

// dispatch crops faces and submits inference tasks. Identity flag is rolled back when task is not accepted.
func (m *Manager) dispatch(img image.Image, jobs []enrichmentJob) {
	for _, job := range jobs {
		crop, err := cropImage(img, job.rect, m.cfg.CropSize)
		if err == nil {
			job := job
			err = m.pool.trySubmit(func(ctx context.Context) {
				m.runEnrichment(ctx, job, crop)
			})
		}
		if err != nil {
			m.rollback(job, err)
			continue
		}
		m.mu.Lock()
		m.stats.InferenceDispatched++
		m.mu.Unlock()
	}
}

func (m *Manager) rollback(job enrichmentJob, reason error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.InferenceRejected++
	identity, ok := m.identities[job.uuid]
	if !ok || identity.inferenceToken != job.token {
		return
	}
	identity.InferenceInProgress = false
	m.log.WithError(reason).WithField("uuid", job.uuid).Debug("Inference not dispatched")
}

// runEnrichment is executed by background workers
func (m *Manager) runEnrichment(ctx context.Context, job enrichmentJob, crop image.Image) {
	sample, err := m.extractAttributes(ctx, crop)

	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.identities[job.uuid]
	if !ok || identity.Status.Terminal() || identity.inferenceToken != job.token || !identity.InferenceInProgress {
		m.stats.ResultsDiscarded++
		m.log.WithField("uuid", job.uuid).Debug("Inference result discarded, identity is gone")
		return
	}
	identity.InferenceInProgress = false
	if err != nil {
		identity.InferenceFailures++
		identity.Error = err.Error()
		m.stats.InferenceFailed++
		m.log.WithError(err).WithFields(logrus.Fields{
			"uuid":     identity.UUID,
			"failures": identity.InferenceFailures,
		}).Warn("Face attribute inference failed")
		return
	}
	m.stats.InferenceCompleted++
	if len(identity.FeatureSamples) < m.cfg.MaxSamples {
		identity.FeatureSamples = append(identity.FeatureSamples, sample)
	}
	if len(identity.FeatureSamples) >= m.cfg.MaxSamples {
		m.aggregate(identity)
	}
}

// extractAttributes converts extractor panics into errors
func (m *Manager) extractAttributes(ctx context.Context, crop image.Image) (sample FeatureSample, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("face attribute inference panicked: %v", r)
		}
	}()
	sample, err = m.attributes.ExtractAttributes(ctx, crop)
	if err != nil {
		return nil, errors.Wrap(err, "Can't extract face attributes")
	}
	return sample, nil
}

// extractEmbedding returns nil when embedding is not available
func (m *Manager) extractEmbedding(ctx context.Context, img image.Image, track *mot.Track) (embedding []float64) {
	if m.embeddings == nil || img == nil {
		return nil
	}
	log := m.log.WithField("track_id", track.ID())
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Embedding inference panicked: %v", r)
			embedding = nil
		}
	}()
	rect := padRect(track.BBox(), m.cfg.CropPadding).ImageRect(img.Bounds())
	crop, err := cropImage(img, rect, m.cfg.CropSize)
	if err != nil {
		log.WithError(err).Debug("Can't crop track for embedding")
		return nil
	}
	embedding, err = m.embeddings.ExtractEmbedding(ctx, crop)
	if err != nil {
		log.WithError(err).Warn("Can't extract embedding")
		return nil
	}
	if len(embedding) == 0 {
		return nil
	}
	return embedding
}

// selectFace picks face lying inside bbox, in its upper two thirds and close to its center.
// Faces are ranked by area / (1 + distance to bbox center).
func selectFace(bbox mot.Rectangle, faces []mot.Detection, maxDistance, minScore float64) (mot.Detection, bool) {
	center := bbox.Center()
	upperLimit := bbox.Y + bbox.Height*2.0/3.0
	bestScore := -1.0
	var best mot.Detection
	for _, face := range faces {
		if face.Class != mot.ClassFace || face.Score < minScore {
			continue
		}
		if !bbox.Contains(face.BBox) {
			continue
		}
		faceCenter := face.BBox.Center()
		if faceCenter.Y > upperLimit {
			continue
		}
		distance := faceCenter.DistanceTo(center)
		if distance > maxDistance {
			continue
		}
		score := face.BBox.Area() / (1 + distance)
		if score > bestScore {
			bestScore = score
			best = face
		}
	}
	return best, bestScore >= 0
}

func padRect(r mot.Rectangle, factor float64) mot.Rectangle {
	padX := r.Width * factor
	padY := r.Height * factor
	return mot.NewRect(r.X-padX, r.Y-padY, r.Width+2*padX, r.Height+2*padY)
}

// cropImage copies region into a new image so frame buffer can be reused by the caller.
// When size is positive the region is scaled to size x size.
func cropImage(src image.Image, rect image.Rectangle, size int) (image.Image, error) {
	if rect.Empty() {
		return nil, ErrEmptyCrop
	}
	if size > 0 {
		dst := image.NewRGBA(image.Rect(0, 0, size, size))
		draw.BiLinear.Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)
		return dst, nil
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, src, rect, draw.Src, nil)
	return dst, nil
}
