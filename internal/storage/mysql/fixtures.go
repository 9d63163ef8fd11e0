package mysql

import (
	"context"
	"database/sql"

	xerrors "RM-Copilot/internal/errors"
	"RM-Copilot/internal/fixtures"
	"RM-Copilot/internal/knowledge"
)

const (
	selectAccountsSQL = `SELECT id, owner, balance, type FROM accounts ORDER BY id`
	selectNotesSQL    = `SELECT client_name, note FROM crm_notes ORDER BY client_name, position, id`
	selectArticlesSQL = `SELECT id, title, content FROM kb_articles ORDER BY position, id`

	insertAccountSQL = `INSERT INTO accounts (id, owner, balance, type) VALUES (?, ?, ?, ?)`
	insertNoteSQL    = `INSERT INTO crm_notes (client_name, note, position) VALUES (?, ?, ?)`
	insertArticleSQL = `INSERT INTO kb_articles (id, title, content, position) VALUES (?, ?, ?, ?)`
)

// FixtureStore 从 MySQL 读取工具使用的静态数据。启动时读取一次，之后只读。
type FixtureStore struct {
	db *sql.DB
}

// NewFixtureStore 建立连接，autoMigrate 为 true 时先执行迁移。
func NewFixtureStore(ctx context.Context, cfg Config, autoMigrate bool) (*FixtureStore, error) {
	db, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if autoMigrate {
		if err := Migrate(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return &FixtureStore{db: db}, nil
}

// NewFixtureStoreWithDB 使用已有连接池。
func NewFixtureStoreWithDB(db *sql.DB) *FixtureStore {
	return &FixtureStore{db: db}
}

// Load 读取三张表并组装为数据集。
func (s *FixtureStore) Load(ctx context.Context) (*fixtures.Dataset, error) {
	ds := &fixtures.Dataset{}

	if err := s.query(ctx, selectAccountsSQL, func(rows *sql.Rows) error {
		var account fixtures.Account
		if err := rows.Scan(&account.ID, &account.Owner, &account.Balance, &account.Type); err != nil {
			return err
		}
		ds.Accounts = append(ds.Accounts, account)
		return nil
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 accounts 失败")
	}

	index := make(map[string]int)
	if err := s.query(ctx, selectNotesSQL, func(rows *sql.Rows) error {
		var name, note string
		if err := rows.Scan(&name, &note); err != nil {
			return err
		}
		pos, ok := index[name]
		if !ok {
			pos = len(ds.Clients)
			index[name] = pos
			ds.Clients = append(ds.Clients, fixtures.ClientNotes{Name: name})
		}
		ds.Clients[pos].Notes = append(ds.Clients[pos].Notes, note)
		return nil
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 crm_notes 失败")
	}

	if err := s.query(ctx, selectArticlesSQL, func(rows *sql.Rows) error {
		var article knowledge.Article
		if err := rows.Scan(&article.ID, &article.Title, &article.Content); err != nil {
			return err
		}
		ds.Articles = append(ds.Articles, article)
		return nil
	}); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeStorageFailure, err, "读取 kb_articles 失败")
	}

	if err := ds.Validate(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Seed 在一个事务中用数据集替换三张表的内容。
func (s *FixtureStore) Seed(ctx context.Context, ds *fixtures.Dataset) error {
	if err := ds.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "开启事务失败")
	}

	exec := func(query string, args ...any) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}

	for _, table := range []string{"crm_notes", "kb_articles", "accounts"} {
		if err := exec("DELETE FROM " + table); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "清空 "+table+" 失败")
		}
	}
	for _, account := range ds.Accounts {
		if err := exec(insertAccountSQL, account.ID, account.Owner, account.Balance, account.Type); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 accounts 失败")
		}
	}
	for _, client := range ds.Clients {
		for pos, note := range client.Notes {
			if err := exec(insertNoteSQL, client.Name, note, pos); err != nil {
				tx.Rollback()
				return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 crm_notes 失败")
			}
		}
	}
	for pos, article := range ds.Articles {
		if err := exec(insertArticleSQL, article.ID, article.Title, article.Content, pos); err != nil {
			tx.Rollback()
			return xerrors.Wrap(xerrors.CodeStorageFailure, err, "写入 kb_articles 失败")
		}
	}

	if err := tx.Commit(); err != nil {
		return xerrors.Wrap(xerrors.CodeStorageFailure, err, "提交事务失败")
	}
	return nil
}

// Close 关闭连接池。
func (s *FixtureStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *FixtureStore) query(ctx context.Context, query string, scan func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := scan(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}
