package state

/*
Файл store.go — хранилище единственной записи PolicyState.
Источник истины — один JSON-документ по настроенному пути:
- Отсутствие файла == отсутствие политики (Load возвращает nil без ошибки).
- Нечитаемый документ — ошибка целостности (domain.ErrStateCorrupt), а не "политики нет".
- Запись атомарная: временный файл в том же каталоге + rename, читатель никогда
  не увидит наполовину записанный документ.
*/

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/xela07ax/system-policy-control/internal/domain"
)

type Store struct {
	path string
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

func (s *Store) Path() string {
	return s.path
}

// Load возвращает текущую запись или nil, если записи нет.
func (s *Store) Load() (*domain.PolicyState, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy state %s: %w", s.path, err)
	}

	var st domain.PolicyState
	if err := json.Unmarshal(raw, &st); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrStateCorrupt, s.path, err)
	}
	if st.ProfilePath == "" || st.AppliedAt.IsZero() {
		return nil, fmt.Errorf("%w: %s: profile_path and applied_at are required", domain.ErrStateCorrupt, s.path)
	}
	return &st, nil
}

// Save заменяет запись целиком, создавая недостающие каталоги.
func (s *Store) Save(st domain.PolicyState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal policy state: %w", err)
	}
	return WriteFileAtomic(s.path, append(data, '\n'), 0o644)
}

// Delete удаляет запись. Удаление несуществующей записи — не ошибка.
func (s *Store) Delete() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete policy state %s: %w", s.path, err)
	}
	return nil
}

// WriteFileAtomic пишет data во временный файл рядом с path и переименовывает его.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary file in %s: %w", dir, err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temporary file %s: %w", tmp.Name(), err)
	}
	if err = tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temporary file %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temporary file %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), perm); err != nil {
		return fmt.Errorf("chmod temporary file %s: %w", tmp.Name(), err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("persist %s: %w", path, err)
	}
	return nil
}
