package Transformer

import (
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/paulmach/orb/encoding/wkt"
	_ "modernc.org/sqlite"
)

// 几何列的存储方式
const (
	blobGPKG       = "gpkg"
	blobWKB        = "wkb"
	blobWKT        = "wkt"
	blobSpatiaLite = "spatialite"
)

var ErrNoSpatialTable = errors.New("no spatial table found in database")

type spatialTable struct {
	name       string
	geomColumn string
	srid       int
	srsName    string
	encoding   string
}

func openSQLite(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open spatial database: %w", err)
	}
	return db, nil
}

func hasTable(db *sql.DB, name string) bool {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	return err == nil && n > 0
}

func hasColumn(db *sql.DB, table, column string) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`, table, column).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect %s columns: %w", table, err)
	}
	return n > 0, nil
}

// inspectSpatialDB 找到第一张要素表: 先看 GeoPackage 元数据, 再看 OGR/SpatiaLite 的 geometry_columns
func inspectSpatialDB(db *sql.DB) (*spatialTable, error) {
	if hasTable(db, "gpkg_geometry_columns") {
		t := &spatialTable{encoding: blobGPKG}
		err := db.QueryRow(`SELECT g.table_name, g.column_name, g.srs_id
			FROM gpkg_geometry_columns g
			JOIN gpkg_contents c ON c.table_name = g.table_name
			ORDER BY g.table_name LIMIT 1`).Scan(&t.name, &t.geomColumn, &t.srid)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoSpatialTable
			}
			return nil, err
		}
		var org sql.NullString
		var orgID sql.NullInt64
		var name sql.NullString
		if err := db.QueryRow(`SELECT srs_name, organization, organization_coordsys_id
			FROM gpkg_spatial_ref_sys WHERE srs_id = ?`, t.srid).Scan(&name, &org, &orgID); err == nil {
			t.srsName = name.String
			if strings.EqualFold(org.String, "EPSG") && orgID.Valid {
				t.srid = int(orgID.Int64)
			}
		}
		return t, nil
	}

	if hasTable(db, "geometry_columns") {
		t := &spatialTable{}
		ogr, err := hasColumn(db, "geometry_columns", "geometry_format")
		if err != nil {
			return nil, err
		}
		// SpatiaLite 的 geometry_columns 没有 geometry_format 列
		format := sql.NullString{String: blobSpatiaLite, Valid: true}
		if ogr {
			err = db.QueryRow(`SELECT f_table_name, f_geometry_column, srid, geometry_format
				FROM geometry_columns ORDER BY f_table_name LIMIT 1`).Scan(&t.name, &t.geomColumn, &t.srid, &format)
		} else {
			err = db.QueryRow(`SELECT f_table_name, f_geometry_column, srid
				FROM geometry_columns ORDER BY f_table_name LIMIT 1`).Scan(&t.name, &t.geomColumn, &t.srid)
		}
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, ErrNoSpatialTable
			}
			return nil, err
		}
		switch strings.ToUpper(format.String) {
		case "WKT":
			t.encoding = blobWKT
		case "SPATIALITE":
			t.encoding = blobSpatiaLite
		default:
			t.encoding = blobWKB
		}
		return t, nil
	}
	return nil, ErrNoSpatialTable
}

func (t *spatialTable) crs() CRSInfo {
	return crsFromSRID(t.srid, t.srsName)
}

func resolveSpatialDBCRS(path string) (CRSInfo, error) {
	db, err := openSQLite(path)
	if err != nil {
		return CRSInfo{}, err
	}
	defer db.Close()
	t, err := inspectSpatialDB(db)
	if err != nil {
		// 不是可识别的空间库, 按无坐标系处理
		return CRSInfo{}, nil
	}
	return t.crs(), nil
}

type spatialDBReader struct {
	db      *sql.DB
	rows    *sql.Rows
	table   *spatialTable
	columns []string
	geomIdx int
	index   int
}

// OpenSpatialDB 读取 GeoPackage 或 OGR/SpatiaLite 库中的第一张要素表
func OpenSpatialDB(path string) (Reader, error) {
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	t, err := inspectSpatialDB(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	rows, err := db.Query(fmt.Sprintf("SELECT * FROM %s", quoteIdent(t.name)))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("query %s: %w", t.name, err)
	}
	columns, err := rows.Columns()
	if err != nil {
		rows.Close()
		db.Close()
		return nil, err
	}
	geomIdx := -1
	for i, c := range columns {
		if strings.EqualFold(c, t.geomColumn) {
			geomIdx = i
		}
	}
	if geomIdx < 0 {
		rows.Close()
		db.Close()
		return nil, fmt.Errorf("geometry column %q not found in %s", t.geomColumn, t.name)
	}
	return &spatialDBReader{db: db, rows: rows, table: t, columns: columns, geomIdx: geomIdx}, nil
}

func (r *spatialDBReader) CRS() CRSInfo { return r.table.crs() }

func (r *spatialDBReader) Next() (*Record, error) {
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return nil, &RecordError{Index: r.index, Err: err}
		}
		return nil, io.EOF
	}
	idx := r.index
	r.index++

	values := make([]interface{}, len(r.columns))
	ptrs := make([]interface{}, len(r.columns))
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}

	geom, err := decodeGeometryValue(values[r.geomIdx], r.table.encoding)
	if err == nil {
		err = ValidateGeometry(geom)
	}
	if err != nil {
		return nil, &RecordError{Index: idx, Err: err}
	}

	props := make(map[string]interface{}, len(r.columns)-1)
	for i, c := range r.columns {
		if i == r.geomIdx || strings.EqualFold(c, "fid") || strings.EqualFold(c, "ogc_fid") {
			continue
		}
		props[c] = sqlValue(values[i])
	}
	return &Record{Geometry: geom, Properties: props}, nil
}

func (r *spatialDBReader) Close() error {
	r.rows.Close()
	return r.db.Close()
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlValue(v interface{}) interface{} {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case time.Time:
		return x.Format(time.RFC3339)
	}
	return v
}

func decodeGeometryValue(v interface{}, encoding string) (orb.Geometry, error) {
	var data []byte
	switch x := v.(type) {
	case nil:
		return nil, ErrEmptyGeometry
	case []byte:
		data = x
	case string:
		data = []byte(x)
	default:
		return nil, fmt.Errorf("unexpected geometry value %T", v)
	}
	switch encoding {
	case blobGPKG:
		return decodeGPKG(data)
	case blobWKT:
		return wkt.Unmarshal(string(data))
	case blobSpatiaLite:
		if isSpatiaLiteBlob(data) {
			return decodeSpatiaLite(data)
		}
	}
	return wkb.Unmarshal(data)
}

// decodeGPKG 去掉 GeoPackage 头后按 WKB 解码
func decodeGPKG(b []byte) (orb.Geometry, error) {
	if len(b) < 8 || b[0] != 'G' || b[1] != 'P' {
		return nil, errors.New("invalid geopackage geometry header")
	}
	flags := b[3]
	if flags&0x10 != 0 {
		return nil, ErrEmptyGeometry
	}
	envelope := map[byte]int{0: 0, 1: 32, 2: 48, 3: 48, 4: 64}
	size, ok := envelope[(flags>>1)&0x07]
	if !ok {
		return nil, errors.New("invalid geopackage envelope indicator")
	}
	start := 8 + size
	if len(b) <= start {
		return nil, errors.New("truncated geopackage geometry")
	}
	return wkb.Unmarshal(b[start:])
}
