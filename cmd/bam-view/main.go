package main

// See doc.go for documentation
import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/bamstream/encoding/bam"
	"github.com/grailbio/bamstream/encoding/bamprovider"
)

var (
	indexFlag   = flag.String("index", "", "Path of the .bai index. Defaults to the BAM path + \".bai\".")
	regionsFlag = flag.String("regions", "", "Comma-separated samtools-style regions, e.g. chr1:100-200. Empty prints the whole file.")
	headerFlag  = flag.Bool("header", false, "Print the SAM header text before the records.")
	skipFlag    = flag.Bool("skip-errors", false, "Skip corrupt alignment blocks instead of aborting.")
	chrFlag     = flag.Bool("strip-chr", false, "Match reference names with a leading \"chr\" stripped.")
)

func main() {
	shutdown := grail.Init()
	defer shutdown()

	if flag.NArg() != 1 {
		log.Fatalf("usage: bam-view [flags] <path.bam>")
	}
	opts := bamprovider.ProviderOpts{Index: *indexFlag}
	if *skipFlag {
		opts.Reader.Policy = bam.SkipRecord
	}
	if *chrFlag {
		opts.NameNormalization = bamprovider.StripChr
	}
	provider := bamprovider.NewProvider(flag.Arg(0), opts)

	out := bufio.NewWriter(os.Stdout)
	if *headerFlag {
		header, err := provider.GetHeader()
		if err != nil {
			log.Fatalf("%s: %v", flag.Arg(0), err)
		}
		if _, err := out.WriteString(header.Text()); err != nil {
			log.Fatalf("write: %v", err)
		}
	}

	if *regionsFlag == "" {
		iter := provider.NewIterator()
		for iter.Scan() {
			rec := iter.Record()
			fmt.Fprintln(out, rec)
			bam.PutInFreePool(rec)
		}
		if err := iter.Close(); err != nil {
			log.Fatalf("%s: %v", flag.Arg(0), err)
		}
	} else {
		var regions []bamprovider.Region
		for _, s := range strings.Split(*regionsFlag, ",") {
			region, err := bamprovider.ParseRegion(s)
			if err != nil {
				log.Fatalf("%v", err)
			}
			regions = append(regions, region)
		}
		// Fetch the regions in parallel, then print them in request order.
		results := make([][]string, len(regions))
		err := traverse.Each(len(regions), func(i int) error {
			iter := provider.Query(regions[i])
			for iter.Scan() {
				rec := iter.Record()
				results[i] = append(results[i], rec.String())
				bam.PutInFreePool(rec)
			}
			return iter.Close()
		})
		if err != nil {
			log.Fatalf("%s: %v", flag.Arg(0), err)
		}
		for _, lines := range results {
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
		}
	}
	if err := out.Flush(); err != nil {
		log.Fatalf("write: %v", err)
	}
	if err := provider.Close(); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}
