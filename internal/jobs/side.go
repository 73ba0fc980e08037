package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/video-optimizer-proxy/internal/metrics"
	"github.com/JakeFAU/video-optimizer-proxy/internal/publisher"
	"github.com/JakeFAU/video-optimizer-proxy/internal/storage"
)

// Side channel names used in logs and metrics.
const (
	channelArchive = "archive"
	channelNotify  = "notify"
)

// background runs fn on a tracked goroutine with its own deadline. It is a
// no-op once Close has been called.
func (s *Service) background(ctx context.Context, fn func(ctx context.Context)) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Debug("service closed, skipping side channels")
		return
	}
	s.side.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.side.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideChannelTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (s *Service) archiveAndNotify(ctx context.Context, f *flight, result Result) {
	s.background(ctx, func(ctx context.Context) {
		uri := s.archiveResult(ctx, f.jobID, result)
		s.publish(ctx, publisher.Completion{
			JobID:       f.jobID,
			VideoID:     f.videoID,
			Status:      string(StatusComplete),
			ResultURI:   uri,
			CompletedAt: s.clock.Now().UTC(),
		})
	})
}

func (s *Service) notify(ctx context.Context, f *flight, status Status, cause error) {
	msg := publisher.Completion{
		JobID:       f.jobID,
		VideoID:     f.videoID,
		Status:      string(status),
		CompletedAt: s.clock.Now().UTC(),
	}
	if cause != nil {
		msg.Error = cause.Error()
	}
	s.background(ctx, func(ctx context.Context) {
		s.publish(ctx, msg)
	})
}

// archiveResult writes result to the blob store and returns its URI, or ""
// when archiving is disabled or fails.
func (s *Service) archiveResult(ctx context.Context, jobID string, result Result) string {
	if s.archive == nil {
		return ""
	}
	body, err := json.Marshal(result)
	if err != nil {
		metrics.ObserveSideChannelFailure(channelArchive)
		s.logger.Warn("encode result for archive", zap.String("job_id", jobID), zap.Error(err))
		return ""
	}
	path := storage.ResultPath(s.cfg.ArchivePrefix, jobID)
	uri, err := s.archive.PutObject(ctx, path, s.cfg.ArchiveContentType, bytes.NewReader(body))
	if err != nil {
		metrics.ObserveSideChannelFailure(channelArchive)
		s.logger.Warn("archive result failed", zap.String("job_id", jobID), zap.String("path", path), zap.Error(err))
		return ""
	}
	s.logger.Debug("result archived", zap.String("job_id", jobID), zap.String("uri", uri))
	return uri
}

func (s *Service) publish(ctx context.Context, msg publisher.Completion) {
	if s.cfg.NotifyTopic == "" {
		return
	}
	id, err := s.publisher.Publish(ctx, s.cfg.NotifyTopic, msg)
	if err != nil {
		metrics.ObserveSideChannelFailure(channelNotify)
		s.logger.Warn("publish completion failed",
			zap.String("job_id", msg.JobID),
			zap.String("topic", s.cfg.NotifyTopic),
			zap.Error(fmt.Errorf("publish %s: %w", msg.Status, err)),
		)
		return
	}
	s.logger.Debug("completion published", zap.String("job_id", msg.JobID), zap.String("message_id", id))
}
