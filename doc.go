/*
Package cstore implements a columnar on-disk table format, made of stripes
of row blocks with per-block min/max statistics, and the writer and reader
that pack rows into it and selectively decode them again.

Data Structure Documentation

Table

A table is a pair of files: a data file holding a header followed by a
series of stripes, and a sibling footer file (the data file name with a
".footer" suffix) that lists the stripe locations.

    Data file layout:
    +--------------------------------+----------+---------+----------+
    | header (10 bytes)              | stripe 1 |   ...   | stripe n |
    +--------------------------------+----------+---------+----------+

    Header:
    +------------------+------------------------+------------------------+
    | magic (8 bytes)  | version major (1 byte) | version minor (1 byte) |
    +------------------+------------------------+------------------------+

    Footer file layout:
    +--------+------------+--------------------------------+
    | footer | postscript | postscript length (1 byte)     |
    +--------+------------+--------------------------------+

    Footer:
    +--------------------------+-----------------------+----------------+-----+----------------+
    | block row count (varint) | stripe count (varint) | stripe 1 meta  | ... | stripe n meta  |
    +--------------------------+-----------------------+----------------+-----+----------------+

    Stripe meta:
    +-----------------------+------------------------+---------------------+-----------------------+
    | file offset (varint)  | skip list len (varint) | data len (varint)   | footer len (varint)   |
    +-----------------------+------------------------+---------------------+-----------------------+

    Postscript:
    +------------------------+------------------------+------------------------+-----------------+
    | footer length (varint) | version major (varint) | version minor (varint) | magic (8 bytes) |
    +------------------------+------------------------+------------------------+-----------------+

Stripe

A stripe holds up to StripeRowCount rows. It starts with the skip lists of
all columns, followed by the data region and a stripe footer. In the data
region, each column stores the exists streams of all its blocks followed by
the value streams of all its blocks.

    Stripe layout:
    +-------------+-----+-------------+---------------+-----+---------------+---------------+
    | skip list 1 | ... | skip list n | column 1 data | ... | column n data | stripe footer |
    +-------------+-----+-------------+---------------+-----+---------------+---------------+

    Column data:
    +----------+-----+----------+---------+-----+---------+
    | exists 1 | ... | exists k | value 1 | ... | value k |
    +----------+-----+----------+---------+-----+---------+

    Stripe footer:
    +-----------------------+--------------------------------------------------------------+-----+
    | column count (varint) | skip list size, exists size, value size of column 1 (varint) | ... |
    +-----------------------+--------------------------------------------------------------+-----+

Skip List

A skip list holds one node per block of a column. Offsets are relative to
the start of the stripe's data region.

    Skip list:
    +-----------------------+--------+-----+--------+
    | block count (varint)  | node 1 | ... | node k |
    +-----------------------+--------+-----+--------+

    Skip node:
    +-------------------+----------------------+----------------------+---------------------+---------------------+
    | row count (varint)| exists offs (varint) | exists len (varint)  | value offs (varint) | value len (varint)  |
    +-------------------+----------------------+----------------------+---------------------+---------------------+
    +----------------------+---------------------+------------------------------------------------------------+
    | compression (1 byte) | has min/max (1 byte)| [min len (varint) | min | max len (varint) | max]           |
    +----------------------+---------------------+------------------------------------------------------------+

Block

The exists stream of a block is a bitmap with one bit per row, set when the
row holds a value. The value stream holds the encoded non-null values only,
passed through the block's compression codec.

    Value stream (uncompressed):
    +---------+---------+-----+---------+
    | value 1 | value 2 | ... | value m |
    +---------+---------+-----+---------+

    LZ4 value stream:
    +------------------------+-------------------------------+-----------------+
    | source length (4 bytes)| compressed length (4 bytes)   | lz4 block       |
    +------------------------+-------------------------------+-----------------+

    Encrypted LZ4 value stream:
    +------------------+------------------------+----------------+--------------------------+-----------------------+
    | nonce (24 bytes) | source length (4 bytes)| inner (1 byte) | encrypted lz4 block or   | poly1305 tag          |
    |                  |                        |                | raw values               | (16 bytes)            |
    +------------------+------------------------+----------------+--------------------------+-----------------------+

    The first 29 bytes are authenticated as additional data.
*/
package cstore
