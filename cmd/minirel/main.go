// Command minirel is a small driver for the minirel storage engine. It
// maintains a demo table of (id, first_name, last_name) records with a
// unique secondary index on last_name:
//
//	minirel -db sample.db create
//	minirel -db sample.db insert z Alice Smith
//	minirel -db sample.db seed -n 100
//	minirel -db sample.db scan
//	minirel -db sample.db lookup z
//	minirel -db sample.db index-scan Smith
//	minirel -db sample.db stat
//
// A YAML config file can replace the flags: minirel -config minirel.yaml …
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/google/uuid"

	"github.com/SimonWaldherr/minirel"
	"github.com/SimonWaldherr/minirel/internal/tuple"
)

// The demo table is created first thing in a fresh heap file, so its pages
// land at fixed ids: table meta page 0, index meta page 2.
const (
	tableMetaPageID = minirel.PageID(0)
	indexMetaPageID = minirel.PageID(2)
	numKeyElems     = 1
)

func main() {
	log.SetFlags(0)

	var (
		dbPath     = flag.String("db", "minirel.db", "heap file path")
		configPath = flag.String("config", "", "YAML config file (overrides -db)")
		poolSize   = flag.Int("pool", minirel.DefaultPoolSize, "buffer pool frames")
	)
	flag.Parse()
	if flag.NArg() < 1 {
		log.Fatal("usage: minirel [flags] create|insert|seed|scan|lookup|index-scan|stat|verify")
	}

	cfg := minirel.Config{Path: *dbPath, PoolSize: *poolSize}
	if *configPath != "" {
		var err error
		if cfg, err = minirel.LoadConfig(*configPath); err != nil {
			log.Fatal(err)
		}
	}

	db, err := minirel.Open(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer db.Close()

	if err := run(db, flag.Arg(0), flag.Args()[1:]); err != nil {
		log.Fatal(err)
	}
}

func run(db *minirel.DB, command string, args []string) error {
	switch command {
	case "create":
		return cmdCreate(db)
	case "insert":
		if len(args) != 3 {
			return fmt.Errorf("usage: insert <id> <first_name> <last_name>")
		}
		return cmdInsert(db, args[0], args[1], args[2])
	case "seed":
		return cmdSeed(db, args)
	case "scan":
		return cmdScan(db)
	case "lookup":
		if len(args) != 1 {
			return fmt.Errorf("usage: lookup <id>")
		}
		return cmdLookup(db, args[0])
	case "index-scan":
		if len(args) != 1 {
			return fmt.Errorf("usage: index-scan <last_name>")
		}
		return cmdIndexScan(db, args[0])
	case "stat":
		return cmdStat(db)
	case "verify":
		return cmdVerify(db)
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

func demoTable() *minirel.Table {
	return &minirel.Table{
		MetaPageID:  tableMetaPageID,
		NumKeyElems: numKeyElems,
		UniqueIndexes: []*minirel.UniqueIndex{
			{MetaPageID: indexMetaPageID, SKey: []int{2}}, // last_name
		},
	}
}

func cmdCreate(db *minirel.DB) error {
	tbl := demoTable()
	if err := db.Do(tbl.Create); err != nil {
		return err
	}
	log.Printf("created table (meta page %v) with index (meta page %v)", tbl.MetaPageID, tbl.UniqueIndexes[0].MetaPageID)
	return db.Flush()
}

func cmdInsert(db *minirel.DB, id, first, last string) error {
	tbl := demoTable()
	err := db.Do(func(mgr *minirel.BufferManager) error {
		return tbl.Insert(mgr, [][]byte{[]byte(id), []byte(first), []byte(last)})
	})
	if err != nil {
		return err
	}
	return db.Flush()
}

// cmdSeed inserts n records with UUID primary keys.
func cmdSeed(db *minirel.DB, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	n := fs.Int("n", 10, "number of records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tbl := demoTable()
	err := db.Do(func(mgr *minirel.BufferManager) error {
		for i := 0; i < *n; i++ {
			record := [][]byte{
				[]byte(uuid.NewString()),
				[]byte("user-" + strconv.Itoa(i)),
				[]byte(uuid.NewString()[:8]),
			}
			if err := tbl.Insert(mgr, record); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("seeded %d records", *n)
	return db.Flush()
}

func cmdScan(db *minirel.DB) error {
	return runPlan(db, minirel.SeqScan{
		TableMetaPageID: tableMetaPageID,
		SearchMode:      minirel.ScanAll(),
	})
}

func cmdLookup(db *minirel.DB, id string) error {
	key := []byte(id)
	return runPlan(db, minirel.SeqScan{
		TableMetaPageID: tableMetaPageID,
		SearchMode:      minirel.ScanFrom(key),
		WhileCond:       func(pkey minirel.Tuple) bool { return string(pkey[0]) == id },
	})
}

func cmdIndexScan(db *minirel.DB, last string) error {
	key := []byte(last)
	return runPlan(db, minirel.IndexScan{
		TableMetaPageID: tableMetaPageID,
		IndexMetaPageID: indexMetaPageID,
		SearchMode:      minirel.ScanFrom(key),
		WhileCond:       func(skey minirel.Tuple) bool { return string(skey[0]) == last },
	})
}

func cmdStat(db *minirel.DB) error {
	return db.Do(func(mgr *minirel.BufferManager) error {
		for _, tree := range []struct {
			name string
			meta minirel.PageID
		}{
			{"table", tableMetaPageID},
			{"index", indexMetaPageID},
		} {
			stats, err := minirel.NewBTree(tree.meta).Stats(mgr)
			if err != nil {
				return err
			}
			log.Printf("%s: height=%d branches=%d leaves=%d pairs=%d free=%dB",
				tree.name, stats.Height, stats.BranchPages, stats.LeafPages, stats.Pairs, stats.FreeBytes)
		}
		return nil
	})
}

func cmdVerify(db *minirel.DB) error {
	return db.Do(func(mgr *minirel.BufferManager) error {
		for _, tree := range []struct {
			name string
			meta minirel.PageID
		}{
			{"table", tableMetaPageID},
			{"index", indexMetaPageID},
		} {
			issues, err := minirel.NewBTree(tree.meta).Verify(mgr)
			if err != nil {
				return err
			}
			if len(issues) == 0 {
				log.Printf("%s: ok", tree.name)
				continue
			}
			for _, issue := range issues {
				log.Printf("%s: %s", tree.name, issue)
			}
		}
		return nil
	})
}

func runPlan(db *minirel.DB, plan minirel.PlanNode) error {
	return db.Do(func(mgr *minirel.BufferManager) error {
		exec, err := plan.Start(mgr)
		if err != nil {
			return err
		}
		defer exec.Close()
		for {
			record, err := exec.Next(mgr)
			if err != nil {
				return err
			}
			if record == nil {
				return nil
			}
			fmt.Fprintln(os.Stdout, tuple.Pretty(record))
		}
	})
}
