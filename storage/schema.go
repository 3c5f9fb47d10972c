// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

// Schema defines the database schema
type Schema struct {
	Name    string
	Tables  []Table
	Indexes []Index
}

// Table defines a database table
type Table struct {
	Name    string
	Columns []Column
}

// Column defines a table column
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	Default  string
	Primary  bool
}

// ColumnType represents a column data type
type ColumnType string

const (
	TypeText    ColumnType = "text"
	TypeInt     ColumnType = "int"
	TypeBigInt  ColumnType = "bigint"
	TypeBool    ColumnType = "bool"
	TypeUint256 ColumnType = "uint256"
	TypeDecimal ColumnType = "decimal"
)

// Index defines a database index
type Index struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// PrimaryKey returns the name of the first primary key column.
func (t Table) PrimaryKey() string {
	for _, c := range t.Columns {
		if c.Primary {
			return c.Name
		}
	}
	return ""
}

// ColumnNames returns the column names in declaration order.
func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// Table returns the table of a collection.
func (s Schema) Table(coll Collection) (Table, bool) {
	for _, t := range s.Tables {
		if t.Name == string(coll) {
			return t, true
		}
	}
	return Table{}, false
}

func col(name string, t ColumnType) Column { return Column{Name: name, Type: t} }

func pk(name string, t ColumnType) Column { return Column{Name: name, Type: t, Primary: true} }

func tokenColumns(prefix string) []Column {
	return []Column{
		col(prefix, TypeText),
		col(prefix+"_symbol", TypeText),
		col(prefix+"_name", TypeText),
		col(prefix+"_decimals", TypeInt),
	}
}

func amountColumns(prefix string) []Column {
	return []Column{
		col(prefix+"unit_amount", TypeUint256),
		col(prefix+"base_amount", TypeUint256),
		col(prefix+"quote_amount", TypeUint256),
	}
}

func concat(groups ...[]Column) []Column {
	var out []Column
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

// IndexerSchema is the relational layout of every collection.
var IndexerSchema = Schema{
	Name: "clob",
	Tables: []Table{
		{
			Name: string(CollectionTokens),
			Columns: []Column{
				pk("address", TypeText),
				col("symbol", TypeText),
				col("name", TypeText),
				col("decimals", TypeInt),
			},
		},
		{
			Name: string(CollectionBooks),
			Columns: concat(
				[]Column{
					pk("id", TypeUint256),
					col("created_at_timestamp", TypeBigInt),
					col("created_at_block_number", TypeBigInt),
				},
				tokenColumns("quote"),
				tokenColumns("base"),
				[]Column{
					col("unit_size", TypeBigInt),
					col("maker_policy", TypeBigInt),
					col("maker_fee", TypeDecimal),
					col("is_maker_fee_in_quote", TypeBool),
					col("taker_policy", TypeBigInt),
					col("taker_fee", TypeDecimal),
					col("is_taker_fee_in_quote", TypeBool),
					col("hooks", TypeText),
					col("price_raw", TypeUint256),
					col("price", TypeDecimal),
					col("inverse_price", TypeDecimal),
					col("tick", TypeInt),
					col("last_taken_timestamp", TypeBigInt),
					col("last_taken_block_number", TypeBigInt),
				},
			),
		},
		{
			Name: string(CollectionDepths),
			Columns: concat(
				[]Column{
					pk("id", TypeText),
					col("book", TypeUint256),
					col("tick", TypeInt),
					col("price_raw", TypeUint256),
					col("price", TypeDecimal),
					col("inverse_price", TypeDecimal),
				},
				amountColumns(""),
				[]Column{
					col("latest_taken_order_index", TypeBigInt),
					col("next_order_index", TypeBigInt),
				},
			),
		},
		{
			Name: string(CollectionOpenOrders),
			Columns: concat(
				[]Column{
					pk("id", TypeUint256),
					col("transaction_hash", TypeText),
					col("timestamp", TypeBigInt),
					col("book", TypeUint256),
				},
				tokenColumns("quote"),
				tokenColumns("base"),
				[]Column{
					col("unit_size", TypeBigInt),
					col("origin", TypeText),
					col("owner", TypeText),
					col("price_raw", TypeUint256),
					col("tick", TypeInt),
					col("order_index", TypeBigInt),
					col("price", TypeDecimal),
					col("inverse_price", TypeDecimal),
				},
				amountColumns(""),
				amountColumns("filled_"),
				amountColumns("claimed_"),
				amountColumns("claimable_"),
				amountColumns("cancelable_"),
			),
		},
		{
			Name: string(CollectionChartLogs),
			Columns: []Column{
				pk("id", TypeText),
				col("market_code", TypeText),
				col("base", TypeText),
				col("quote", TypeText),
				col("interval_type", TypeText),
				col("timestamp", TypeBigInt),
				col("open", TypeDecimal),
				col("high", TypeDecimal),
				col("low", TypeDecimal),
				col("close", TypeDecimal),
				col("base_volume", TypeDecimal),
				col("bid_book_base_volume", TypeDecimal),
				col("ask_book_base_volume", TypeDecimal),
			},
		},
		{
			Name: string(CollectionCursors),
			Columns: []Column{
				pk("id", TypeText),
				col("block_number", TypeBigInt),
			},
		},
	},
	Indexes: []Index{
		{Name: "idx_depths_book", Table: string(CollectionDepths), Columns: []string{"book", "tick"}},
		{Name: "idx_open_orders_book", Table: string(CollectionOpenOrders), Columns: []string{"book", "tick", "order_index"}},
		{Name: "idx_open_orders_owner", Table: string(CollectionOpenOrders), Columns: []string{"owner"}},
		{Name: "idx_chart_logs_market", Table: string(CollectionChartLogs), Columns: []string{"market_code", "interval_type", "timestamp"}},
	},
}
