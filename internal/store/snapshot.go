package store

import (
	"fmt"
	"sort"

	"github.com/garnet-dev/garnet/internal/index"
)

// Save replaces the persisted snapshot with ix inside one transaction.
func (s *Store) Save(ix *index.Index) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("store: save: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"ref_targets", "refs", "symbols", "scopes", "requires", "files"} {
		if _, err := tx.Exec("DELETE FROM " + table); err != nil {
			return fmt.Errorf("store: save: clear %s: %w", table, err)
		}
	}

	paths := make([]string, 0, len(ix.Files))
	for p := range ix.Files {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	scopeIDs := make(map[*index.Scope]int64)
	var nextScopeID, nextRefID int64

	for _, path := range paths {
		f := ix.Files[path]
		res, err := tx.Exec(
			`INSERT INTO files (path, version, hash) VALUES (?, ?, ?)`,
			f.Path, f.Version, f.Hash)
		if err != nil {
			return fmt.Errorf("store: save: file %s: %w", f.Path, err)
		}
		fileID, err := res.LastInsertId()
		if err != nil {
			return err
		}

		// Scopes, parents before children so the FK always resolves.
		var insertScope func(sc *index.Scope) error
		insertScope = func(sc *index.Scope) error {
			nextScopeID++
			scopeIDs[sc] = nextScopeID
			var parentID any
			if sc.Parent != nil {
				parentID = scopeIDs[sc.Parent]
			}
			_, err := tx.Exec(
				`INSERT INTO scopes (id, file_id, kind, start_line, start_col, end_line, end_col, parent_scope_id)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				nextScopeID, fileID, string(sc.Kind),
				sc.Span.StartLine, sc.Span.StartCol, sc.Span.EndLine, sc.Span.EndCol,
				parentID)
			if err != nil {
				return err
			}
			for _, child := range sc.Children {
				if err := insertScope(child); err != nil {
					return err
				}
			}
			return nil
		}
		if err := insertScope(f.Root); err != nil {
			return fmt.Errorf("store: save: scopes %s: %w", f.Path, err)
		}

		for _, sym := range f.Symbols {
			var typeName, typeSource any
			if ti, ok := f.Types[sym]; ok {
				typeName, typeSource = ti.Name, string(ti.Source)
			}
			_, err := tx.Exec(
				`INSERT INTO symbols (id, file_id, scope_id, name, kind, signature,
				   start_line, start_col, end_line, end_col,
				   name_start_line, name_start_col, name_end_line, name_end_col,
				   type_name, type_source)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sym.ID, fileID, scopeIDs[sym.Scope], sym.Name, string(sym.Kind), sym.Signature,
				sym.Span.StartLine, sym.Span.StartCol, sym.Span.EndLine, sym.Span.EndCol,
				sym.NameSpan.StartLine, sym.NameSpan.StartCol, sym.NameSpan.EndLine, sym.NameSpan.EndCol,
				typeName, typeSource)
			if err != nil {
				return fmt.Errorf("store: save: symbol %q: %w", sym.Name, err)
			}
		}

		for _, ref := range f.Refs {
			nextRefID++
			_, err := tx.Exec(
				`INSERT INTO refs (id, file_id, scope_id, name, start_line, start_col, end_line, end_col)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
				nextRefID, fileID, scopeIDs[ref.Scope], ref.Name,
				ref.Span.StartLine, ref.Span.StartCol, ref.Span.EndLine, ref.Span.EndCol)
			if err != nil {
				return fmt.Errorf("store: save: ref %q: %w", ref.Name, err)
			}
			for _, target := range ref.Targets {
				if _, err := tx.Exec(
					`INSERT INTO ref_targets (ref_id, symbol_id) VALUES (?, ?)`,
					nextRefID, target.ID); err != nil {
					return fmt.Errorf("store: save: ref target: %w", err)
				}
			}
		}

		for _, req := range f.Requires {
			if _, err := tx.Exec(
				`INSERT INTO requires (file_id, source) VALUES (?, ?)`, fileID, req); err != nil {
				return fmt.Errorf("store: save: require: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: save: commit: %w", err)
	}
	return nil
}

// Load reconstructs the persisted snapshot. Syntax trees are not persisted;
// callers reparse on demand when they need one. The returned maxSymbolID
// lets the pipeline keep new symbol IDs disjoint from loaded ones.
func (s *Store) Load() (ix *index.Index, maxSymbolID int64, err error) {
	ix = index.New()

	type fileRow struct {
		id   int64
		file *index.FileIndex
	}
	fileRows := make(map[int64]*fileRow)
	rows, err := s.db.Query(`SELECT id, path, version, hash FROM files ORDER BY path`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load files: %w", err)
	}
	for rows.Next() {
		var id int64
		f := &index.FileIndex{Types: make(map[*index.Symbol]index.TypeInfo)}
		if err := rows.Scan(&id, &f.Path, &f.Version, &f.Hash); err != nil {
			rows.Close()
			return nil, 0, err
		}
		fileRows[id] = &fileRow{id: id, file: f}
		ix.Files[f.Path] = f
	}
	rows.Close()

	scopes := make(map[int64]*index.Scope)
	rows, err = s.db.Query(
		`SELECT id, file_id, kind, start_line, start_col, end_line, end_col, parent_scope_id
		 FROM scopes ORDER BY id`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load scopes: %w", err)
	}
	for rows.Next() {
		var id, fileID int64
		var parentID *int64
		sc := &index.Scope{}
		var kind string
		if err := rows.Scan(&id, &fileID, &kind,
			&sc.Span.StartLine, &sc.Span.StartCol, &sc.Span.EndLine, &sc.Span.EndCol,
			&parentID); err != nil {
			rows.Close()
			return nil, 0, err
		}
		sc.Kind = index.ScopeKind(kind)
		if fr, ok := fileRows[fileID]; ok {
			sc.Path = fr.file.Path
			if parentID == nil {
				fr.file.Root = sc
			}
		}
		if parentID != nil {
			if parent, ok := scopes[*parentID]; ok {
				sc.Parent = parent
				parent.Children = append(parent.Children, sc)
			}
		}
		scopes[id] = sc
	}
	rows.Close()

	symbols := make(map[int64]*index.Symbol)
	rows, err = s.db.Query(
		`SELECT id, file_id, scope_id, name, kind, signature,
		        start_line, start_col, end_line, end_col,
		        name_start_line, name_start_col, name_end_line, name_end_col,
		        type_name, type_source
		 FROM symbols ORDER BY id`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load symbols: %w", err)
	}
	for rows.Next() {
		sym := &index.Symbol{}
		var fileID int64
		var scopeID *int64
		var kind string
		var signature, typeName, typeSource *string
		if err := rows.Scan(&sym.ID, &fileID, &scopeID, &sym.Name, &kind, &signature,
			&sym.Span.StartLine, &sym.Span.StartCol, &sym.Span.EndLine, &sym.Span.EndCol,
			&sym.NameSpan.StartLine, &sym.NameSpan.StartCol, &sym.NameSpan.EndLine, &sym.NameSpan.EndCol,
			&typeName, &typeSource); err != nil {
			rows.Close()
			return nil, 0, err
		}
		sym.Kind = index.SymbolKind(kind)
		if signature != nil {
			sym.Signature = *signature
		}
		fr, ok := fileRows[fileID]
		if !ok {
			continue
		}
		sym.Path = fr.file.Path
		if scopeID != nil {
			if sc, ok := scopes[*scopeID]; ok {
				sc.Declare(sym)
			}
		}
		fr.file.Symbols = append(fr.file.Symbols, sym)
		if typeName != nil && typeSource != nil {
			fr.file.Types[sym] = index.TypeInfo{
				Name:   *typeName,
				Source: index.TypeSource(*typeSource),
			}
		}
		if sym.ID > maxSymbolID {
			maxSymbolID = sym.ID
		}
		symbols[sym.ID] = sym
	}
	rows.Close()

	refTargets := make(map[int64][]*index.Symbol)
	rows, err = s.db.Query(`SELECT ref_id, symbol_id FROM ref_targets`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load ref targets: %w", err)
	}
	for rows.Next() {
		var refID, symID int64
		if err := rows.Scan(&refID, &symID); err != nil {
			rows.Close()
			return nil, 0, err
		}
		if sym, ok := symbols[symID]; ok {
			refTargets[refID] = append(refTargets[refID], sym)
		}
	}
	rows.Close()

	rows, err = s.db.Query(
		`SELECT id, file_id, scope_id, name, start_line, start_col, end_line, end_col
		 FROM refs ORDER BY id`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load refs: %w", err)
	}
	for rows.Next() {
		ref := &index.Reference{}
		var id, fileID int64
		var scopeID *int64
		if err := rows.Scan(&id, &fileID, &scopeID, &ref.Name,
			&ref.Span.StartLine, &ref.Span.StartCol, &ref.Span.EndLine, &ref.Span.EndCol); err != nil {
			rows.Close()
			return nil, 0, err
		}
		fr, ok := fileRows[fileID]
		if !ok {
			continue
		}
		ref.Path = fr.file.Path
		if scopeID != nil {
			ref.Scope = scopes[*scopeID]
		}
		ref.Targets = refTargets[id]
		fr.file.Refs = append(fr.file.Refs, ref)
	}
	rows.Close()

	rows, err = s.db.Query(`SELECT file_id, source FROM requires`)
	if err != nil {
		return nil, 0, fmt.Errorf("store: load requires: %w", err)
	}
	for rows.Next() {
		var fileID int64
		var source string
		if err := rows.Scan(&fileID, &source); err != nil {
			rows.Close()
			return nil, 0, err
		}
		if fr, ok := fileRows[fileID]; ok {
			fr.file.Requires = append(fr.file.Requires, source)
		}
	}
	rows.Close()

	ix.FreezeSymbols()
	ix.FreezeRefs()
	return ix, maxSymbolID, nil
}
