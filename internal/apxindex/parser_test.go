package apxindex

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"apx-evs/internal/models"
)

func writeInfoFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "apx_4_4_1_info.txt")
	err := os.WriteFile(path, []byte(content), 0644)
	if err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_parse_with_header(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,offset,length\n"+
			"0,1000,0,132\n"+
			"1,2000,132,132\n"))
	should.Nil(p.Parse())

	should.Equal([]models.Record{
		{TimestampUs: 1000, Offset: 0, Length: 132},
		{TimestampUs: 2000, Offset: 132, Length: 132},
	}, p.Records)
	should.Equal(0, p.Skipped)
}

func Test_parse_header_with_reordered_columns(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"length,offset,timestamp,index\n"+
			"132,0,1000,0\n"))
	should.Nil(p.Parse())

	should.Equal(1, len(p.Records))
	should.Equal(int64(1000), p.Records[0].TimestampUs)
	should.Equal(int64(0), p.Records[0].Offset)
	should.Equal(int64(132), p.Records[0].Length)
}

func Test_parse_without_header_uses_fixed_columns(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"0,1000,0,132\n"+
			"1,2000,132,132\n"))
	should.Nil(p.Parse())

	should.Equal(2, len(p.Records))
	should.Equal(int64(1000), p.Records[0].TimestampUs)
	should.Equal(int64(2000), p.Records[1].TimestampUs)
}

func Test_parse_header_missing_column_fails(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,length\n"+
			"0,1000,132\n"))
	err := p.Parse()
	should.NotNil(err)

	fe, ok := err.(*FormatError)
	should.True(ok)
	should.Equal("offset", fe.Field)
}

func Test_parse_skips_short_rows(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,offset,length\n"+
			"0,1000,0,132\n"+
			"1,2000\n"+
			"2,3000,264,132\n"))
	should.Nil(p.Parse())

	should.Equal(2, len(p.Records))
	should.Equal(1, p.Skipped)
	should.Equal(int64(3000), p.Records[1].TimestampUs)
}

func Test_parse_skips_blank_lines(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,offset,length\n"+
			"\n"+
			"0,1000,0,132\n"+
			"\n"))
	should.Nil(p.Parse())

	should.Equal(1, len(p.Records))
	should.Equal(0, p.Skipped)
}

func Test_parse_bad_integer_is_format_error(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,offset,length\n"+
			"0,abc,0,132\n"))
	err := p.Parse()
	should.NotNil(err)

	fe, ok := err.(*FormatError)
	should.True(ok)
	should.Equal(2, fe.Line)
	should.Equal("timestamp", fe.Field)
	should.Equal("abc", fe.Value)
}

func Test_parse_skips_invalid_values(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index,timestamp,offset,length\n"+
			"0,-5,0,132\n"+
			"1,1000,0,0\n"+
			"2,2000,0,132\n"))
	should.Nil(p.Parse())

	should.Equal(1, len(p.Records))
	should.Equal(2, p.Skipped)
	should.Equal(int64(2000), p.Records[0].TimestampUs)
}

func Test_parse_tolerates_spaces(t *testing.T) {
	should := require.New(t)

	p := NewInfoParser(writeInfoFile(t,
		"index, timestamp, offset, length\n"+
			" 0 , 1000 , 0 , 132 \n"))
	should.Nil(p.Parse())

	should.Equal(1, len(p.Records))
	should.Equal(int64(1000), p.Records[0].TimestampUs)
	should.Equal(int64(132), p.Records[0].Length)
}

func Test_parse_missing_file(t *testing.T) {
	should := require.New(t)
	p := NewInfoParser(filepath.Join(t.TempDir(), "nope_info.txt"))
	should.NotNil(p.Parse())
}
