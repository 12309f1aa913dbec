package sqlctlcmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	mbp "go.sqlcluster.dev/core/mainboilerplate"
	pb "go.sqlcluster.dev/core/protocol"
)

// statementArgs are the positional arguments of a statement command.
type statementArgs struct {
	SQL    string   `positional-arg-name:"SQL" required:"yes" description:"Statement to execute"`
	Params []string `positional-arg-name:"PARAM" description:"Statement parameters"`
}

type cmdExec struct {
	Text bool          `long:"text" description:"Pass all parameters as text, rather than inferring integer, float and NULL parameters"`
	Args statementArgs `positional-args:"yes"`
}

type cmdQuery struct {
	Text bool          `long:"text" description:"Pass all parameters as text, rather than inferring integer, float and NULL parameters"`
	Args statementArgs `positional-args:"yes"`
}

func init() {
	CommandRegistry.AddCommand("", "exec", "Execute a statement on the leader", `
Execute a statement against the cluster leader, and print the ID of the last
inserted row and the number of affected rows.

Parameters are bound to '?' placeholders of the statement, in order. Integer,
float, and "NULL" parameters are inferred, unless --text is given:
>    sqlctl exec "INSERT INTO kv (k, v) VALUES (?, ?)" answer 42
`, &cmdExec{})

	CommandRegistry.AddCommand("", "query", "Query rows from the leader", `
Query rows from the cluster leader, and print them as a table.
Parameters are bound as with "exec".
>    sqlctl query "SELECT k, v FROM kv WHERE v > ?" 10
`, &cmdQuery{})
}

func (cmd *cmdExec) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustOpenClient(ctx)
	defer cl.Close()

	var result, err = cl.Exec(ctx, cmd.Args.SQL, parseParams(cmd.Args.Params, cmd.Text)...)
	mbp.Must(err, "failed to execute statement")

	fmt.Printf("OK: last insert ID %d, %s rows affected\n",
		result.LastInsertID, humanize.Comma(int64(result.RowsAffected)))
	return nil
}

func (cmd *cmdQuery) Execute([]string) error {
	startup()

	var ctx = context.Background()
	var cl = mustOpenClient(ctx)
	defer cl.Close()

	var rows, err = cl.Query(ctx, cmd.Args.SQL, parseParams(cmd.Args.Params, cmd.Text)...)
	mbp.Must(err, "failed to query rows")

	writeRows(os.Stdout, rows)
	return nil
}

// parseParams infers typed statement parameters from command-line |args|.
func parseParams(args []string, text bool) []interface{} {
	var out = make([]interface{}, 0, len(args))

	for _, arg := range args {
		if text {
			out = append(out, arg)
		} else if strings.EqualFold(arg, "null") {
			out = append(out, nil)
		} else if i, err := strconv.ParseInt(arg, 10, 64); err == nil {
			out = append(out, i)
		} else if f, err := strconv.ParseFloat(arg, 64); err == nil {
			out = append(out, f)
		} else {
			out = append(out, arg)
		}
	}
	return out
}

func writeRows(w io.Writer, rows *pb.Rows) {
	var table = tablewriter.NewWriter(w)
	table.SetHeader(rows.Columns)

	for _, values := range rows.Values {
		var row = make([]string, len(values))
		for i, v := range values {
			row[i] = formatValue(v)
		}
		table.Append(row)
	}
	table.Render()

	fmt.Fprintf(w, "(%s rows)\n", humanize.Comma(int64(rows.Len())))
}

func formatValue(v interface{}) string {
	switch vv := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return fmt.Sprintf("<blob %s>", humanize.IBytes(uint64(len(vv))))
	case time.Time:
		return vv.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(vv)
	}
}
