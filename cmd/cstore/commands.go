package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/bsm/cstore"
	"github.com/bsm/cstore/s3file"
	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func addTableFlags(cmd *cobra.Command) {
	cmd.Flags().String("compression", "", "Compression kind (none, snappy, lz4, enc_lz4)")
	cmd.Flags().String("stripe-row-count", "", "Maximum number of rows per stripe")
	cmd.Flags().String("block-row-count", "", "Number of rows per block")
}

// writerOptions validates the table flags like host table options.
func (a *app) writerOptions() (*cstore.WriterOptions, error) {
	m := make(map[string]string)
	for key, flag := range map[string]string{
		"compression":      "compression",
		"stripe_row_count": "stripe-row-count",
		"block_row_count":  "block-row-count",
	} {
		if s := a.v.GetString(flag); s != "" {
			m[key] = s
		}
	}

	opts, err := cstore.ParseTableOptions(m)
	if err != nil {
		return nil, err
	}
	key, err := a.encryptionKey()
	if err != nil {
		return nil, err
	}

	wo := opts.WriterOptions()
	wo.EncryptionKey = key
	wo.Logger = a.logger
	wo.Metrics = a.metrics
	return wo, nil
}

func (a *app) createCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create TABLE",
		Short: "Create an empty table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := a.writerOptions()
			if err != nil {
				return err
			}
			return cstore.CreateTable(args[0], o)
		},
	}
	addTableFlags(cmd)
	return cmd
}

func (a *app) loadCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "load TABLE",
		Short: "Append CSV rows to a table",
		Long: `Append CSV rows to a table, creating it if needed. Empty fields are
loaded as nulls, bytes are hex encoded and timestamps are RFC 3339.

Example:
  cstore load events --schema id:int64,name:string,ts:timestamp --input events.csv`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := a.schema()
			if err != nil {
				return err
			}
			o, err := a.writerOptions()
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if name := a.v.GetString("input"); name != "" && name != "-" {
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			n, err := a.load(args[0], schema, o, in)
			if err != nil {
				return err
			}
			a.logMetrics()
			fmt.Fprintf(cmd.OutOrStdout(), "loaded %d rows into %s\n", n, args[0])
			return nil
		},
	}
	cmd.Flags().String("schema", "", "Column definitions, e.g. id:int64,name:string")
	cmd.Flags().String("input", "-", "CSV input file")
	cmd.Flags().Bool("header", false, "Skip the first CSV record")
	addTableFlags(cmd)
	return cmd
}

func (a *app) load(path string, schema cstore.Schema, o *cstore.WriterOptions, in io.Reader) (int, error) {
	cr := csv.NewReader(in)
	cr.FieldsPerRecord = len(schema)
	cr.ReuseRecord = true

	if a.v.GetBool("header") {
		if _, err := cr.Read(); err != nil && err != io.EOF {
			return 0, err
		}
	}

	s, err := cstore.BeginWrite(path, schema, o)
	if err != nil {
		return 0, err
	}

	n, err := loadRows(s, schema, cr)
	if cerr := s.Close(); err == nil {
		err = cerr
	}
	return n, err
}

func loadRows(s *cstore.WriteSession, schema cstore.Schema, cr *csv.Reader) (int, error) {
	values := make([]interface{}, len(schema))
	for n := 0; ; n++ {
		rec, err := cr.Read()
		if err == io.EOF {
			return n, nil
		} else if err != nil {
			return n, err
		}

		for i, field := range rec {
			if field == "" {
				values[i] = nil
				continue
			}
			if values[i], err = parseValue(schema[i].Type, field); err != nil {
				line, _ := cr.FieldPos(i)
				return n, fmt.Errorf("line %d, column %q: %w", line, schema[i].Name, err)
			}
		}
		if err := s.WriteRow(values, nil); err != nil {
			return n, err
		}
	}
}

// rowReader is implemented by *cstore.Reader and *cstore.ReadSession.
type rowReader interface {
	ReadNextRow(values []interface{}, nulls []bool) (bool, error)
	Close() error
}

func (a *app) openTable(cmd *cobra.Command, table string, schema cstore.Schema, projected []int, preds []cstore.Predicate) (rowReader, error) {
	o, err := a.readerOptions()
	if err != nil {
		return nil, err
	}

	if bucket, key, ok := parseS3URL(table); ok {
		client, err := a.newS3(cmd.Context(), a.v.GetString("region"))
		if err != nil {
			return nil, err
		}
		return s3file.OpenTable(cmd.Context(), client, bucket, key, schema, projected, preds, o)
	}
	return cstore.BeginRead(table, schema, projected, preds, o)
}

func (a *app) scanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scan TABLE",
		Short: "Print the rows of a table",
		Long: `Print the rows of a local or s3:// table. Conditions are used to skip
blocks and then to filter the remaining rows.

Example:
  cstore scan events --schema id:int64,name:string --columns name --where "id >= 100" --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := a.schema()
			if err != nil {
				return err
			}
			cols, err := parseColumns(schema, a.v.GetString("columns"))
			if err != nil {
				return err
			}

			where, err := cmd.Flags().GetStringArray("where")
			if err != nil {
				return err
			}
			preds := make([]cstore.Predicate, 0, len(where))
			for _, s := range where {
				p, err := parseWhere(schema, s)
				if err != nil {
					return err
				}
				preds = append(preds, p)
			}

			projected := append([]int(nil), cols...)
			for _, p := range preds {
				projected = append(projected, p.Column)
			}

			r, err := a.openTable(cmd, args[0], schema, projected, preds)
			if err != nil {
				return err
			}
			defer r.Close()

			out, err := newRowPrinter(cmd.OutOrStdout(), a.v.GetString("format"), schema, cols)
			if err != nil {
				return err
			}
			n, err := scanRows(r, schema, preds, a.v.GetInt("limit"), out)
			if err != nil {
				return err
			}
			a.logger.Info("scan complete", zap.Int("rows", n))
			a.logMetrics()
			return nil
		},
	}
	cmd.Flags().String("schema", "", "Column definitions, e.g. id:int64,name:string")
	cmd.Flags().String("columns", "", "Comma separated columns to print (default all)")
	cmd.Flags().StringArray("where", nil, `Condition, e.g. "id >= 100" or "name IS NULL" (repeatable)`)
	cmd.Flags().String("format", "csv", "Output format (csv, json)")
	cmd.Flags().Int("limit", 0, "Maximum number of rows to print")
	return cmd
}

func scanRows(r rowReader, schema cstore.Schema, preds []cstore.Predicate, limit int, out rowPrinter) (int, error) {
	values := make([]interface{}, len(schema))
	nulls := make([]bool, len(schema))

	var n int
	for limit <= 0 || n < limit {
		ok, err := r.ReadNextRow(values, nulls)
		if err != nil {
			return n, err
		} else if !ok {
			break
		}

		if !matchAll(schema, preds, values, nulls) {
			continue
		}
		if err := out.Print(values); err != nil {
			return n, err
		}
		n++
	}
	return n, out.Flush()
}

func matchAll(schema cstore.Schema, preds []cstore.Predicate, values []interface{}, nulls []bool) bool {
	for _, p := range preds {
		if !p.Match(schema[p.Column].Type, values[p.Column], nulls[p.Column]) {
			return false
		}
	}
	return true
}

type rowPrinter interface {
	Print(values []interface{}) error
	Flush() error
}

func newRowPrinter(w io.Writer, format string, schema cstore.Schema, cols []int) (rowPrinter, error) {
	switch format {
	case "csv":
		p := &csvPrinter{w: csv.NewWriter(w), cols: cols, rec: make([]string, len(cols))}
		for i, c := range cols {
			p.rec[i] = schema[c].Name
		}
		if err := p.w.Write(p.rec); err != nil {
			return nil, err
		}
		return p, nil
	case "json":
		return &jsonPrinter{enc: json.NewEncoder(w), schema: schema, cols: cols}, nil
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

type csvPrinter struct {
	w    *csv.Writer
	cols []int
	rec  []string
}

func (p *csvPrinter) Print(values []interface{}) error {
	for i, c := range p.cols {
		p.rec[i] = formatValue(values[c])
	}
	return p.w.Write(p.rec)
}

func (p *csvPrinter) Flush() error {
	p.w.Flush()
	return p.w.Error()
}

type jsonPrinter struct {
	enc    *json.Encoder
	schema cstore.Schema
	cols   []int
}

func (p *jsonPrinter) Print(values []interface{}) error {
	row := make(map[string]interface{}, len(p.cols))
	for _, c := range p.cols {
		row[p.schema[c].Name] = values[c]
	}
	return p.enc.Encode(row)
}

func (p *jsonPrinter) Flush() error { return nil }

func (a *app) footerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "footer TABLE",
		Short: "Print the stripes of a table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()

			schemaFlag := a.v.GetString("schema")
			if schemaFlag == "" {
				footer, err := cstore.ReadFooter(args[0])
				if err != nil {
					return err
				}
				printFooter(w, footer)
				return nil
			}

			schema, err := parseSchema(schemaFlag)
			if err != nil {
				return err
			}
			o, err := a.readerOptions()
			if err != nil {
				return err
			}
			s, err := cstore.BeginRead(args[0], schema, nil, nil, o)
			if err != nil {
				return err
			}
			defer s.Close()

			footer := s.Footer()
			printFooter(w, footer)
			for n := range footer.Stripes {
				sl, _, err := s.LoadSkipList(n)
				if err != nil {
					return err
				}
				printSkipList(w, n, schema, sl)
			}
			return nil
		},
	}
	cmd.Flags().String("schema", "", "Column definitions, prints block statistics when set")
	return cmd
}

func printFooter(w io.Writer, footer *cstore.Footer) {
	fmt.Fprintf(w, "block row count: %d\n", footer.BlockRowCount)
	fmt.Fprintf(w, "stripes: %d\n", len(footer.Stripes))
	for n, s := range footer.Stripes {
		fmt.Fprintf(w, "stripe %d: offset=%d skip_list=%d data=%d footer=%d\n",
			n, s.FileOffset, s.SkipListLength, s.DataLength, s.FooterLength)
	}
}

func printSkipList(w io.Writer, n int, schema cstore.Schema, sl *cstore.SkipList) {
	fmt.Fprintf(w, "stripe %d: rows=%d blocks=%d\n", n, sl.RowCount(), sl.Blocks)
	for c, col := range schema {
		for b := 0; b < sl.Blocks; b++ {
			node := sl.Node(c, b)
			fmt.Fprintf(w, "  %s[%d]: rows=%d compression=%s value_bytes=%d", col.Name, b, node.RowCount, node.Compression, node.ValueLength)
			if node.HasMinMax {
				fmt.Fprintf(w, " min=%s max=%s", formatValue(node.Min), formatValue(node.Max))
			}
			fmt.Fprintln(w)
		}
	}
}

func (a *app) sizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "size TABLE",
		Short: "Print the combined size of the table files in bytes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			size, err := cstore.TableSize(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), size)
			return nil
		},
	}
}

func (a *app) dropCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "drop TABLE",
		Short: "Delete the table files",
		Args:  cobra.ExactArgs(1),
		Run: func(_ *cobra.Command, args []string) {
			cstore.DeleteTable(args[0], a.logger)
		},
	}
}

func (a *app) uploadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "upload TABLE s3://BUCKET/KEY",
		Short: "Upload a table to S3",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bucket, key, ok := parseS3URL(args[1])
			if !ok {
				return errors.New("destination must be s3://bucket/key")
			}

			client, err := a.newS3(cmd.Context(), a.v.GetString("region"))
			if err != nil {
				return err
			}
			if err := s3file.UploadTable(cmd.Context(), client, args[0], bucket, key); err != nil {
				return err
			}
			a.logger.Info("table uploaded", zap.String("path", args[0]), zap.String("bucket", bucket), zap.String("key", key))
			return nil
		},
	}
}
