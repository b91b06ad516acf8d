package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"wechat_sync/internal/config"
	"wechat_sync/internal/domain"
	"wechat_sync/internal/service/mocks"
)

type SyncServiceTestSuite struct {
	suite.Suite
	ctrl *gomock.Controller

	source   *mocks.MockSource
	posts    *mocks.MockUpserter
	progress *mocks.MockProgressStore

	cfg    config.SyncConfig
	logger *slog.Logger
	ctx    context.Context
	sleeps []time.Duration
}

func (s *SyncServiceTestSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())

	s.source = mocks.NewMockSource(s.ctrl)
	s.posts = mocks.NewMockUpserter(s.ctrl)
	s.progress = mocks.NewMockProgressStore(s.ctrl)

	s.cfg = config.SyncConfig{
		BatchSize:  10,
		ItemDelay:  time.Minute,
		BatchDelay: 30 * time.Second,
	}
	s.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	s.ctx = context.Background()
	s.sleeps = nil

	s.source.EXPECT().ID().Return("wechat").AnyTimes()
	s.source.EXPECT().Name().Return("WeChat").AnyTimes()
}

func (s *SyncServiceTestSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestSyncServiceTestSuite(t *testing.T) {
	suite.Run(t, new(SyncServiceTestSuite))
}

func (s *SyncServiceTestSuite) newService(opts RunOptions, ephemeral bool) *SyncService {
	cursor := NewCursor(s.progress, ephemeral, s.logger)
	svc := NewSyncService(s.source, s.posts, cursor, s.logger, s.cfg, opts)
	svc.sleep = func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	}
	return svc
}

// items builds n single-article items whose media ids encode their index.
func items(from, n int) []domain.SourceItem {
	out := make([]domain.SourceItem, 0, n)
	for i := from; i < from+n; i++ {
		id := fmt.Sprintf("M%d", i)
		out = append(out, domain.SourceItem{
			MediaID:  id,
			Articles: []domain.Article{{MediaID: id, Title: "article " + id}},
		})
	}
	return out
}

func upsertOK(_ context.Context, a *domain.Article) (*domain.Post, error) {
	return &domain.Post{ID: domain.PostID(a.MediaID), Title: a.Title}, nil
}

func (s *SyncServiceTestSuite) expectSave(index, total int) *gomock.Call {
	return s.progress.EXPECT().Save(s.ctx, gomock.Cond(func(x any) bool {
		p, ok := x.(*domain.Progress)
		return ok && p.LastSyncedIndex == index && p.TotalProcessed == total
	})).Return(nil)
}

func (s *SyncServiceTestSuite) TestSync_ResumesAfterCursor() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: 4, TotalProcessed: 5}, nil)
	s.source.EXPECT().Count(s.ctx).Return(8, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 5, 3).Return(items(5, 3), nil)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK).Times(3)
	gomock.InOrder(
		s.expectSave(5, 6),
		s.expectSave(6, 7),
		s.expectSave(7, 8),
	)

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(8, stats.Total)
	s.Equal(5, stats.Start)
	s.Equal(8, stats.End)
	s.Equal(3, stats.Processed)
	s.Equal(8, stats.TotalProcessed)
	s.Equal(0, stats.Errors)
	s.Equal([]time.Duration{time.Minute, time.Minute, time.Minute}, s.sleeps)
}

func (s *SyncServiceTestSuite) TestSync_LimitAcrossBatches() {
	s.cfg.BatchSize = 2

	s.progress.EXPECT().Load(s.ctx).Return(nil, errors.New("corrupt"))
	s.source.EXPECT().Count(s.ctx).Return(25, nil)
	gomock.InOrder(
		s.source.EXPECT().FetchBatch(s.ctx, 0, 2).Return(items(0, 2), nil),
		s.source.EXPECT().FetchBatch(s.ctx, 2, 1).Return(items(2, 1), nil),
	)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK).Times(3)
	gomock.InOrder(
		s.expectSave(0, 1),
		s.expectSave(1, 2),
		s.expectSave(2, 3),
	)

	stats, err := s.newService(RunOptions{Limit: 3}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(3, stats.End)
	s.Equal(3, stats.Processed)
	s.Equal([]time.Duration{time.Minute, time.Minute, 30 * time.Second, time.Minute}, s.sleeps)
}

func (s *SyncServiceTestSuite) TestSync_LimitStopsInsideBundledItem() {
	page := []domain.SourceItem{
		{MediaID: "A", Articles: []domain.Article{{MediaID: "A", Title: "a1"}, {MediaID: "A", Title: "a2"}}},
		{MediaID: "B", Articles: []domain.Article{{MediaID: "B", Title: "b1"}, {MediaID: "B", Title: "b2"}}},
	}

	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(10, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 0, 3).Return(page, nil)

	var titles []string
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(
		func(ctx context.Context, a *domain.Article) (*domain.Post, error) {
			titles = append(titles, a.Title)
			return upsertOK(ctx, a)
		},
	).Times(3)
	gomock.InOrder(
		s.expectSave(0, 1),
		s.expectSave(0, 2),
		s.expectSave(1, 3),
	)

	stats, err := s.newService(RunOptions{Limit: 3}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal([]string{"a1", "a2", "b1"}, titles)
	s.Equal(3, stats.Processed)
}

func (s *SyncServiceTestSuite) TestSync_NothingToDo() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: 9, TotalProcessed: 10}, nil)
	s.source.EXPECT().Count(s.ctx).Return(10, nil)

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(10, stats.Start)
	s.Equal(0, stats.Processed)
	s.Equal(10, stats.TotalProcessed)
	s.Empty(s.sleeps)
}

func (s *SyncServiceTestSuite) TestSync_BatchErrorIsCountedAndSkipped() {
	s.cfg.BatchSize = 1

	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(2, nil)
	gomock.InOrder(
		s.source.EXPECT().FetchBatch(s.ctx, 0, 1).Return(nil, errors.New("errcode 45009")),
		s.source.EXPECT().FetchBatch(s.ctx, 1, 1).Return(items(1, 1), nil),
	)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK)
	s.expectSave(1, 1)

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(1, stats.Processed)
	s.Equal([]time.Duration{time.Minute}, s.sleeps)
}

func (s *SyncServiceTestSuite) TestSync_ArticleErrorIsCountedAndSkipped() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(2, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 0, 2).Return(items(0, 2), nil)
	gomock.InOrder(
		s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).Return(nil, errors.New("replace post wx-M0: 500")),
		s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK),
	)
	s.expectSave(1, 1)

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Errors)
	s.Equal(1, stats.Processed)
	s.Equal(1, stats.TotalProcessed)
}

func (s *SyncServiceTestSuite) TestSync_ProgressSaveErrorCounted() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(1, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 0, 1).Return(items(0, 1), nil)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK)
	s.progress.EXPECT().Save(s.ctx, gomock.Any()).Return(errors.New("read-only file system"))

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, stats.Processed)
	s.Equal(1, stats.Errors)
}

func (s *SyncServiceTestSuite) TestSync_CheckModeWritesNothing() {
	s.cfg.BatchSize = 2

	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: 1, TotalProcessed: 2}, nil)
	s.progress.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
	s.source.EXPECT().Count(s.ctx).Return(10, nil)
	gomock.InOrder(
		s.source.EXPECT().FetchBatch(s.ctx, 2, 2).Return(items(2, 2), nil),
		s.source.EXPECT().FetchBatch(s.ctx, 4, 1).Return(items(4, 1), nil),
	)

	cursor := NewCursor(s.progress, false, s.logger)
	svc := NewSyncService(s.source, nil, cursor, s.logger, s.cfg, RunOptions{Limit: 3, Check: true})
	svc.sleep = func(_ context.Context, d time.Duration) error {
		s.sleeps = append(s.sleeps, d)
		return nil
	}

	stats, err := svc.Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(3, stats.Checked)
	s.Equal(0, stats.Processed)
	s.Equal(2, stats.TotalProcessed)
	s.Empty(s.sleeps)
}

func (s *SyncServiceTestSuite) TestSync_EphemeralCursorStartsAtNewestAndNeverSaves() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: 6, TotalProcessed: 7}, nil)
	s.progress.EXPECT().Save(gomock.Any(), gomock.Any()).Times(0)
	s.source.EXPECT().Count(s.ctx).Return(20, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 0, 2).Return(items(0, 2), nil)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK).Times(2)

	stats, err := s.newService(RunOptions{Limit: 2}, true).Sync(s.ctx)

	s.Require().NoError(err)
	s.Equal(0, stats.Start)
	s.Equal(2, stats.Processed)
}

func (s *SyncServiceTestSuite) TestSync_CountErrorAborts() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(0, errors.New("invalid credential"))

	stats, err := s.newService(RunOptions{}, false).Sync(s.ctx)

	s.Nil(stats)
	s.ErrorContains(err, "count articles")
}

func (s *SyncServiceTestSuite) TestSync_CancelledDuringDelay() {
	s.progress.EXPECT().Load(s.ctx).Return(&domain.Progress{LastSyncedIndex: -1}, nil)
	s.source.EXPECT().Count(s.ctx).Return(3, nil)
	s.source.EXPECT().FetchBatch(s.ctx, 0, 3).Return(items(0, 3), nil)
	s.posts.EXPECT().Upsert(s.ctx, gomock.Any()).DoAndReturn(upsertOK)
	s.expectSave(0, 1)

	svc := s.newService(RunOptions{}, false)
	svc.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	stats, err := svc.Sync(s.ctx)

	s.ErrorIs(err, context.Canceled)
	s.Require().NotNil(stats)
	s.Equal(1, stats.Processed)
}

func (s *SyncServiceTestSuite) TestWait() {
	s.NoError(wait(s.ctx, 0))
	s.NoError(wait(s.ctx, -time.Second))
	s.NoError(wait(s.ctx, time.Millisecond))

	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	s.ErrorIs(wait(ctx, time.Hour), context.Canceled)
}
