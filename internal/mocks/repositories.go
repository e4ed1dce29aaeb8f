package mocks

import (
	"context"
	"database/sql"
	"sync"

	"github.com/gofamint/content-sync/internal/models"
	"github.com/gofamint/content-sync/internal/repository"
)

// MockStore is an in-memory stand-in for the database. Transactions are
// serialized and a failed transaction restores the state it started from.
type MockStore struct {
	mu sync.Mutex

	Articles map[string]*models.Article       // keyed by external id
	Authors  map[string]*models.AuthorProfile // keyed by local id
	Users    map[string]*models.User

	// WriteError is returned by every insert and update when set
	WriteError error
	// BeginError is returned by WithinTx before fn runs
	BeginError error

	ArticleWrites int
	AuthorWrites  int
	TxCount       int

	racing map[string]*models.Article
	after  []func()
}

// Verify interface compliance
var (
	_ repository.ArticleRepository = (*mockArticleRepo)(nil)
	_ repository.AuthorRepository  = (*mockAuthorRepo)(nil)
	_ repository.UserRepository    = (*mockUserRepo)(nil)
	_ repository.Transactor        = (*mockTransactor)(nil)
)

func NewMockStore() *MockStore {
	return &MockStore{
		Articles: make(map[string]*models.Article),
		Authors:  make(map[string]*models.AuthorProfile),
		Users:    make(map[string]*models.User),
		racing:   make(map[string]*models.Article),
	}
}

// Repositories returns repositories backed by the store
func (s *MockStore) Repositories() *repository.Repositories {
	repos := s.bind(false)
	repos.Tx = &mockTransactor{store: s}
	return repos
}

func (s *MockStore) bind(inTx bool) *repository.Repositories {
	return &repository.Repositories{
		Article: &mockArticleRepo{store: s, inTx: inTx},
		Author:  &mockAuthorRepo{store: s, inTx: inTx},
		User:    &mockUserRepo{store: s, inTx: inTx},
	}
}

// AddUser seeds an account
func (s *MockStore) AddUser(u *models.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Users[u.ID] = u
}

// AddAuthor seeds a profile
func (s *MockStore) AddAuthor(p *models.AuthorProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Authors[p.ID] = p
}

// AddArticle seeds a mirror row
func (s *MockStore) AddArticle(a *models.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Articles[a.ExternalID] = a
}

// Article returns a copy of the stored row, or nil
func (s *MockStore) Article(externalID string) *models.Article {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyArticle(s.Articles[externalID])
}

// AuthorByExternalID returns a copy of the stored profile, or nil
func (s *MockStore) AuthorByExternalID(externalID string) *models.AuthorProfile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyAuthor(s.findAuthor(func(p *models.AuthorProfile) bool { return p.ExternalID == externalID }))
}

// SimulateConcurrentInsert makes the next insert of competitor's external id
// lose a race: the insert reports a duplicate and competitor becomes visible
// once the losing transaction has rolled back.
func (s *MockStore) SimulateConcurrentInsert(competitor *models.Article) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.racing[competitor.ExternalID] = competitor
}

func (s *MockStore) findAuthor(match func(*models.AuthorProfile) bool) *models.AuthorProfile {
	for _, p := range s.Authors {
		if match(p) {
			return p
		}
	}
	return nil
}

func (s *MockStore) lock(inTx bool) func() {
	if inTx {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

type snapshot struct {
	articles map[string]*models.Article
	authors  map[string]*models.AuthorProfile
}

func (s *MockStore) snapshot() snapshot {
	snap := snapshot{
		articles: make(map[string]*models.Article, len(s.Articles)),
		authors:  make(map[string]*models.AuthorProfile, len(s.Authors)),
	}
	for k, v := range s.Articles {
		snap.articles[k] = copyArticle(v)
	}
	for k, v := range s.Authors {
		snap.authors[k] = copyAuthor(v)
	}
	return snap
}

// mockTransactor serializes transactions on the store mutex
type mockTransactor struct {
	store *MockStore
}

func (t *mockTransactor) WithinTx(ctx context.Context, fn func(tx *repository.Repositories) error) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.BeginError != nil {
		return s.BeginError
	}
	s.TxCount++

	snap := s.snapshot()
	repos := s.bind(true)
	repos.Tx = nestedTx{repos: repos}

	if err := fn(repos); err != nil {
		s.Articles = snap.articles
		s.Authors = snap.authors
		for _, f := range s.after {
			f()
		}
		s.after = nil
		return err
	}
	return nil
}

type nestedTx struct {
	repos *repository.Repositories
}

func (n nestedTx) WithinTx(ctx context.Context, fn func(tx *repository.Repositories) error) error {
	return fn(n.repos)
}

// mockArticleRepo is a mock implementation of ArticleRepository
type mockArticleRepo struct {
	store *MockStore
	inTx  bool
}

func (r *mockArticleRepo) GetByExternalID(ctx context.Context, externalID string) (*models.Article, error) {
	defer r.store.lock(r.inTx)()
	return copyArticle(r.store.Articles[externalID]), nil
}

func (r *mockArticleRepo) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.Article, error) {
	return r.GetByExternalID(ctx, externalID)
}

func (r *mockArticleRepo) Insert(ctx context.Context, article *models.Article) error {
	defer r.store.lock(r.inTx)()
	s := r.store

	if s.WriteError != nil {
		return s.WriteError
	}
	if competitor, ok := s.racing[article.ExternalID]; ok {
		delete(s.racing, article.ExternalID)
		s.after = append(s.after, func() { s.Articles[competitor.ExternalID] = copyArticle(competitor) })
		return repository.ErrDuplicate
	}
	if _, exists := s.Articles[article.ExternalID]; exists {
		return repository.ErrDuplicate
	}

	s.ArticleWrites++
	s.Articles[article.ExternalID] = copyArticle(article)
	return nil
}

func (r *mockArticleRepo) UpdateSynced(ctx context.Context, article *models.Article) error {
	defer r.store.lock(r.inTx)()
	s := r.store

	if s.WriteError != nil {
		return s.WriteError
	}
	stored, ok := s.Articles[article.ExternalID]
	if !ok || stored.ID != article.ID {
		return sql.ErrNoRows
	}

	updated := copyArticle(article)
	updated.GenericViews = stored.GenericViews
	updated.VerifiedViews = stored.VerifiedViews
	s.ArticleWrites++
	s.Articles[article.ExternalID] = updated
	return nil
}

func (r *mockArticleRepo) IncrementViews(ctx context.Context, externalID string, verified bool) (bool, error) {
	defer r.store.lock(r.inTx)()

	if r.store.WriteError != nil {
		return false, r.store.WriteError
	}
	a, ok := r.store.Articles[externalID]
	if !ok || a.Deleted() {
		return false, nil
	}
	if verified {
		a.VerifiedViews++
	} else {
		a.GenericViews++
	}
	return true, nil
}

func (r *mockArticleRepo) Count(ctx context.Context) (int, error) {
	defer r.store.lock(r.inTx)()
	count := 0
	for _, a := range r.store.Articles {
		if !a.Deleted() {
			count++
		}
	}
	return count, nil
}

func (r *mockArticleRepo) StreamAll(ctx context.Context, filter models.ArticleFilter, callback func(*models.Article) error) error {
	r.store.mu.Lock()
	var matched []*models.Article
	for _, a := range r.store.Articles {
		if a.Deleted() {
			continue
		}
		if filter.Approved != nil && a.Approved != *filter.Approved {
			continue
		}
		if filter.AuthorExternalID != "" {
			author := r.store.Authors[a.AuthorID]
			if author == nil || author.ExternalID != filter.AuthorExternalID {
				continue
			}
		}
		matched = append(matched, copyArticle(a))
	}
	r.store.mu.Unlock()

	for i, a := range matched {
		if filter.Limit > 0 && uint64(i) >= filter.Limit {
			break
		}
		if err := callback(a); err != nil {
			return err
		}
	}
	return nil
}

// mockAuthorRepo is a mock implementation of AuthorRepository
type mockAuthorRepo struct {
	store *MockStore
	inTx  bool
}

func (r *mockAuthorRepo) GetByID(ctx context.Context, id string) (*models.AuthorProfile, error) {
	defer r.store.lock(r.inTx)()
	return copyAuthor(r.store.Authors[id]), nil
}

func (r *mockAuthorRepo) GetByExternalID(ctx context.Context, externalID string) (*models.AuthorProfile, error) {
	defer r.store.lock(r.inTx)()
	if externalID == "" {
		return nil, nil
	}
	return copyAuthor(r.store.findAuthor(func(p *models.AuthorProfile) bool { return p.ExternalID == externalID })), nil
}

func (r *mockAuthorRepo) GetByExternalIDForUpdate(ctx context.Context, externalID string) (*models.AuthorProfile, error) {
	return r.GetByExternalID(ctx, externalID)
}

func (r *mockAuthorRepo) GetByUserIDForUpdate(ctx context.Context, userID string) (*models.AuthorProfile, error) {
	defer r.store.lock(r.inTx)()
	return copyAuthor(r.store.findAuthor(func(p *models.AuthorProfile) bool { return p.UserID == userID })), nil
}

func (r *mockAuthorRepo) Insert(ctx context.Context, profile *models.AuthorProfile) error {
	defer r.store.lock(r.inTx)()
	s := r.store

	if s.WriteError != nil {
		return s.WriteError
	}
	if s.findAuthor(func(p *models.AuthorProfile) bool {
		return p.UserID == profile.UserID || (profile.ExternalID != "" && p.ExternalID == profile.ExternalID)
	}) != nil {
		return repository.ErrDuplicate
	}

	s.AuthorWrites++
	s.Authors[profile.ID] = copyAuthor(profile)
	return nil
}

func (r *mockAuthorRepo) Update(ctx context.Context, profile *models.AuthorProfile) error {
	defer r.store.lock(r.inTx)()
	s := r.store

	if s.WriteError != nil {
		return s.WriteError
	}
	if _, ok := s.Authors[profile.ID]; !ok {
		return sql.ErrNoRows
	}

	s.AuthorWrites++
	s.Authors[profile.ID] = copyAuthor(profile)
	return nil
}

func (r *mockAuthorRepo) Count(ctx context.Context) (int, error) {
	defer r.store.lock(r.inTx)()
	return len(r.store.Authors), nil
}

// mockUserRepo is a mock implementation of UserRepository
type mockUserRepo struct {
	store *MockStore
	inTx  bool
}

func (r *mockUserRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	defer r.store.lock(r.inTx)()
	u, ok := r.store.Users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func copyArticle(a *models.Article) *models.Article {
	if a == nil {
		return nil
	}
	cp := *a
	return &cp
}

func copyAuthor(p *models.AuthorProfile) *models.AuthorProfile {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
