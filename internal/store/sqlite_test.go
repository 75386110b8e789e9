package store

import (
	"fmt"
	"sync"
	"testing"

	"dex-engine/internal/config"
)

func newMemStore(t *testing.T, maxOpen int) *Store {
	t.Helper()
	st, err := NewSQLite(config.DatabaseConfig{InMemory: true, MaxOpenConns: maxOpen})
	if err != nil {
		t.Fatalf("初始化内存数据库失败: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestInMemorySchemaSurvivesPooledConnections(t *testing.T) {
	// 连接池轮换连接时，内存库里的表结构与数据必须保持可见。
	st := newMemStore(t, 4)

	if _, err := st.DB().Exec(`CREATE TABLE probe_rows (id INTEGER PRIMARY KEY, val TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	if _, err := st.DB().Exec(`INSERT INTO probe_rows (val) VALUES ('keep')`); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var got string
			if err := st.DB().QueryRow(`SELECT val FROM probe_rows WHERE id = 1`).Scan(&got); err != nil {
				errs <- err
				return
			}
			if got != "keep" {
				errs <- fmt.Errorf("unexpected value %q", got)
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("expected row visible on every pooled connection, got %v", err)
	}
}

func TestInMemoryStoresAreIsolated(t *testing.T) {
	a := newMemStore(t, 1)
	b := newMemStore(t, 1)

	if _, err := a.DB().Exec(`CREATE TABLE only_in_a (id INTEGER PRIMARY KEY)`); err != nil {
		t.Fatalf("create table failed: %v", err)
	}

	var name string
	err := b.DB().QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'only_in_a'`).Scan(&name)
	if err == nil {
		t.Fatalf("expected isolated databases, table leaked into second store: %s", name)
	}
}
