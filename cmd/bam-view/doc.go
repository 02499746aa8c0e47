/*Command bam-view prints the alignment records of a .bam file as SAM text
  lines.  Without --regions it scans the whole file in stream order.  With
  --regions it uses the .bai index to fetch only the records overlapping the
  requested intervals; the regions are fetched in parallel and printed in
  the order given.

  Usage: bam-view --regions=chr1:10000-20000,chr2:500-900 foo.bam
*/
package main
