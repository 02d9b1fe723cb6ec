package flatfile

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/entitle/internal/interfaces"
	"github.com/ternarybob/entitle/internal/models"
)

// activeEntry records a checked-out credential and the line it was stored as.
type activeEntry struct {
	class models.DurationClass
	line  string
}

// WriteFunc persists a class file. Replaceable for tests.
type WriteFunc func(path string, data []byte) error

// StoreOption configures a CredentialStore
type StoreOption func(*CredentialStore)

// WithWriteFunc overrides how class files are written
func WithWriteFunc(fn WriteFunc) StoreOption {
	return func(s *CredentialStore) {
		s.writeFile = fn
	}
}

// CredentialStore keeps one text file per duration class under dataDir.
//
// Lock order is mu, then the class lock, then activeMu. Single-class operations
// hold mu shared so different classes proceed concurrently; snapshots spanning
// every class hold mu exclusively.
type CredentialStore struct {
	dataDir    string
	logger     arbor.ILogger
	mu         sync.RWMutex
	classLocks map[models.DurationClass]*sync.Mutex
	activeMu   sync.Mutex
	active     map[string]activeEntry
	writeFile  WriteFunc
}

// NewCredentialStore creates a store rooted at dataDir
func NewCredentialStore(dataDir string, logger arbor.ILogger, opts ...StoreOption) (interfaces.CredentialStore, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inventory directory: %w", err)
	}

	s := &CredentialStore{
		dataDir:    dataDir,
		logger:     logger,
		classLocks: make(map[models.DurationClass]*sync.Mutex, len(models.DurationClasses)),
		active:     make(map[string]activeEntry),
	}
	for _, c := range models.DurationClasses {
		s.classLocks[c] = &sync.Mutex{}
	}
	s.writeFile = s.atomicWrite

	for _, opt := range opts {
		opt(s)
	}

	logger.Debug().Str("data_dir", dataDir).Msg("Credential store initialized")
	return s, nil
}

// path returns the class file, e.g. data/1m_tokens.txt
func (s *CredentialStore) path(class models.DurationClass) string {
	return filepath.Join(s.dataDir, class.String()+"_tokens.txt")
}

// lockClass acquires the shared global lock then the class lock
func (s *CredentialStore) lockClass(class models.DurationClass) func() {
	s.mu.RLock()
	cl := s.classLocks[class]
	cl.Lock()
	return func() {
		cl.Unlock()
		s.mu.RUnlock()
	}
}

// load reads the at-rest lines for a class. A missing file is an empty set.
func (s *CredentialStore) load(class models.DurationClass) ([]string, error) {
	data, err := os.ReadFile(s.path(class))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s inventory: %w", class, err)
	}

	var lines []string
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || models.NormalizeCredential(line) == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// save fully rewrites a class file, sorted
func (s *CredentialStore) save(class models.DurationClass, lines []string) error {
	sorted := make([]string, len(lines))
	copy(sorted, lines)
	sort.Strings(sorted)

	if err := s.writeFile(s.path(class), []byte(strings.Join(sorted, "\n"))); err != nil {
		return fmt.Errorf("failed to write %s inventory: %w", class, err)
	}
	return nil
}

func (s *CredentialStore) atomicWrite(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// candidates returns indices of lines whose secret is not active, one per secret.
// Caller holds activeMu.
func (s *CredentialStore) candidates(lines []string) []int {
	seen := make(map[string]struct{}, len(lines))
	idx := make([]int, 0, len(lines))
	for i, line := range lines {
		secret := models.NormalizeCredential(line)
		if _, ok := s.active[secret]; ok {
			continue
		}
		if _, ok := seen[secret]; ok {
			continue
		}
		seen[secret] = struct{}{}
		idx = append(idx, i)
	}
	return idx
}

// without drops every line whose secret is in secrets
func without(lines []string, secrets map[string]struct{}) []string {
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		if _, drop := secrets[models.NormalizeCredential(line)]; drop {
			continue
		}
		kept = append(kept, line)
	}
	return kept
}

// Checkout removes one random available credential from the at-rest set and marks it in use
func (s *CredentialStore) Checkout(class models.DurationClass) (string, error) {
	creds, err := s.checkout(class, 1, false)
	if err != nil {
		return "", err
	}
	return creds[0], nil
}

// CheckoutBatch checks out exactly n credentials or none
func (s *CredentialStore) CheckoutBatch(class models.DurationClass, n int) ([]string, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: batch size must be positive, got %d", models.ErrInvalidParameters, n)
	}
	return s.checkout(class, n, true)
}

func (s *CredentialStore) checkout(class models.DurationClass, n int, batch bool) ([]string, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}

	unlock := s.lockClass(class)
	defer unlock()

	lines, err := s.load(class)
	if err != nil {
		return nil, err
	}

	// Reserve under activeMu so a checkout of another class cannot take the same secret
	s.activeMu.Lock()
	idx := s.candidates(lines)
	if len(idx) < n {
		s.activeMu.Unlock()
		if batch {
			return nil, fmt.Errorf("%w. Required: %dx, Available: %dx", models.ErrInsufficientStock, n, len(idx))
		}
		return nil, fmt.Errorf("%w: no %s credentials available", models.ErrEmptyStock, class)
	}
	rand.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	picked := make([]string, 0, n)
	taken := make(map[string]struct{}, n)
	for _, i := range idx[:n] {
		secret := models.NormalizeCredential(lines[i])
		s.active[secret] = activeEntry{class: class, line: lines[i]}
		taken[secret] = struct{}{}
		picked = append(picked, secret)
	}
	s.activeMu.Unlock()

	if err := s.save(class, without(lines, taken)); err != nil {
		s.activeMu.Lock()
		for secret := range taken {
			delete(s.active, secret)
		}
		s.activeMu.Unlock()

		s.logger.Error().Err(err).Str("duration_class", class.String()).Int("count", n).Msg("Checkout rolled back")
		return nil, err
	}

	s.logger.Debug().Str("duration_class", class.String()).Int("count", n).Msg("Credentials checked out")
	return picked, nil
}

// Return puts a credential back at rest in its original stored form, annotated with reason if given.
// Returning a credential that is not active still inserts it.
func (s *CredentialStore) Return(credential string, class models.DurationClass, reason string) error {
	if !class.Valid() {
		return fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}
	secret := models.NormalizeCredential(credential)
	if secret == "" {
		return fmt.Errorf("%w: empty credential", models.ErrInvalidParameters)
	}

	unlock := s.lockClass(class)
	defer unlock()

	lines, err := s.load(class)
	if err != nil {
		return err
	}

	stored := ""
	for _, line := range lines {
		if models.NormalizeCredential(line) == secret {
			stored = line
			break
		}
	}
	if stored == "" {
		s.activeMu.Lock()
		if entry, ok := s.active[secret]; ok {
			stored = entry.line
		}
		s.activeMu.Unlock()
	}
	if stored == "" {
		stored = secret
	}

	updated := append(without(lines, map[string]struct{}{secret: {}}), models.AnnotateCredential(stored, reason))
	if err := s.save(class, updated); err != nil {
		return err
	}

	s.activeMu.Lock()
	delete(s.active, secret)
	s.activeMu.Unlock()

	s.logger.Debug().
		Str("credential", models.MaskCredential(secret)).
		Str("duration_class", class.String()).
		Str("reason", reason).
		Msg("Credential returned")
	return nil
}

// Remove permanently deletes a credential from the at-rest set and the in-use map
func (s *CredentialStore) Remove(credential string, class models.DurationClass, reason string) error {
	if !class.Valid() {
		return fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}
	secret := models.NormalizeCredential(credential)

	unlock := s.lockClass(class)
	defer unlock()

	lines, err := s.load(class)
	if err != nil {
		return err
	}

	kept := without(lines, map[string]struct{}{secret: {}})
	if len(kept) != len(lines) {
		if err := s.save(class, kept); err != nil {
			return err
		}
	}

	s.activeMu.Lock()
	delete(s.active, secret)
	s.activeMu.Unlock()

	s.logger.Debug().
		Str("credential", models.MaskCredential(secret)).
		Str("duration_class", class.String()).
		Str("reason", reason).
		Msg("Credential removed")
	return nil
}

// Add merges credential lines into the at-rest set. Duplicates and active credentials are skipped.
func (s *CredentialStore) Add(credentials []string, class models.DurationClass) (int, error) {
	if !class.Valid() {
		return 0, fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}

	unlock := s.lockClass(class)
	defer unlock()

	lines, err := s.load(class)
	if err != nil {
		return 0, err
	}

	known := make(map[string]struct{}, len(lines)+len(credentials))
	for _, line := range lines {
		known[models.NormalizeCredential(line)] = struct{}{}
	}

	s.activeMu.Lock()
	for secret := range s.active {
		known[secret] = struct{}{}
	}
	s.activeMu.Unlock()

	added := 0
	for _, raw := range credentials {
		raw = strings.TrimSpace(raw)
		secret := models.NormalizeCredential(raw)
		if secret == "" {
			continue
		}
		if _, dup := known[secret]; dup {
			continue
		}
		known[secret] = struct{}{}
		lines = append(lines, raw)
		added++
	}

	if added == 0 {
		return 0, nil
	}
	if err := s.save(class, lines); err != nil {
		return 0, err
	}

	s.logger.Info().Str("duration_class", class.String()).Int("added", added).Msg("Credentials added to inventory")
	return added, nil
}

// countActive counts in-use credentials of a class. Caller must not hold activeMu.
func (s *CredentialStore) countActive(class models.DurationClass) int {
	s.activeMu.Lock()
	defer s.activeMu.Unlock()
	n := 0
	for _, entry := range s.active {
		if entry.class == class {
			n++
		}
	}
	return n
}

func (s *CredentialStore) stock(class models.DurationClass) (models.StockInfo, error) {
	lines, err := s.load(class)
	if err != nil {
		return models.StockInfo{}, err
	}

	s.activeMu.Lock()
	available := len(s.candidates(lines))
	s.activeMu.Unlock()

	inUse := s.countActive(class)
	return models.StockInfo{
		Available: available,
		InUse:     inUse,
		Total:     available + inUse,
	}, nil
}

// Stock returns a snapshot for one class
func (s *CredentialStore) Stock(class models.DurationClass) (models.StockInfo, error) {
	if !class.Valid() {
		return models.StockInfo{}, fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}

	unlock := s.lockClass(class)
	defer unlock()

	return s.stock(class)
}

// StockAll returns a snapshot for every class taken under the exclusive global lock
func (s *CredentialStore) StockAll() (map[models.DurationClass]models.StockInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make(map[models.DurationClass]models.StockInfo, len(models.DurationClasses))
	for _, class := range models.DurationClasses {
		info, err := s.stock(class)
		if err != nil {
			return nil, err
		}
		result[class] = info
	}
	return result, nil
}

// Fetch lists inventory entries for a scope
func (s *CredentialStore) Fetch(scope models.InventoryScope) (*models.InventorySnapshot, error) {
	classes := models.DurationClasses
	switch scope {
	case models.ScopeAll, models.ScopeInUse:
	case models.ScopeOne:
		classes = []models.DurationClass{models.DurationOneMonth}
	case models.ScopeThree:
		classes = []models.DurationClass{models.DurationThreeMonths}
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", models.ErrInvalidParameters, scope)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := &models.InventorySnapshot{
		Scope:   scope,
		Classes: make(map[models.DurationClass]models.ClassInventory, len(classes)),
	}

	s.activeMu.Lock()
	inUse := make(map[models.DurationClass][]string)
	for secret, entry := range s.active {
		inUse[entry.class] = append(inUse[entry.class], secret)
	}
	s.activeMu.Unlock()

	totals := models.InventoryTotals{}
	for _, class := range classes {
		active := inUse[class]
		sort.Strings(active)
		inv := models.ClassInventory{
			InUse:      active,
			InUseCount: len(active),
		}

		if scope != models.ScopeInUse {
			lines, err := s.load(class)
			if err != nil {
				return nil, err
			}
			inv.Available = make(map[string]string, len(lines))
			for _, line := range lines {
				inv.Available[models.NormalizeCredential(line)] = line
			}
			inv.AvailableCount = len(inv.Available)
		}
		inv.Total = inv.AvailableCount + inv.InUseCount
		snapshot.Classes[class] = inv

		totals.Available += inv.AvailableCount
		totals.InUse += inv.InUseCount
	}

	if scope == models.ScopeAll {
		totals.GrandTotal = totals.Available + totals.InUse
		snapshot.Totals = &totals
	}
	return snapshot, nil
}

// Filter rewrites a class's at-rest set keeping only lines whose secret satisfies keep
func (s *CredentialStore) Filter(class models.DurationClass, keep func(secret string) bool) (*models.FilterResult, error) {
	if !class.Valid() {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidDurationClass, int(class))
	}

	unlock := s.lockClass(class)
	defer unlock()

	lines, err := s.load(class)
	if err != nil {
		return nil, err
	}

	result := &models.FilterResult{}
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		secret := models.NormalizeCredential(line)
		if keep(secret) {
			kept = append(kept, line)
			continue
		}
		result.Dropped = append(result.Dropped, secret)
	}
	result.Kept = len(kept)
	result.Removed = len(result.Dropped)

	if result.Removed > 0 {
		if err := s.save(class, kept); err != nil {
			return nil, err
		}
	}

	s.logger.Info().
		Str("duration_class", class.String()).
		Int("kept", result.Kept).
		Int("removed", result.Removed).
		Msg("Inventory filtered")
	return result, nil
}
