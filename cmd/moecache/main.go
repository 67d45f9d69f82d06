package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jsp-lqk/moecache"
)

const usage = `usage: moecache [flags] <command> [args]

commands:
  get <key>
  set <key> <value> [exptime]
  delete <key>
  stats [args...]

flags:
`

func loadConfig(args []string) (moecache.Config, []string, error) {
	fs := pflag.NewFlagSet("moecache", pflag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		fs.PrintDefaults()
	}
	configFile := fs.String("config", "", "config file (default ./moecache.yaml)")
	fs.StringSlice("servers", []string{"127.0.0.1:11211"}, "comma separated host:port list")
	fs.Duration("timeout", moecache.DefaultTimeout, "socket operation timeout")
	fs.Duration("connect-timeout", 0, "connect timeout, defaults to --timeout")
	fs.String("routing", "ring", "key routing: ring or jump")
	fs.Int("max-item-size", moecache.DefaultMaxItemSize, "largest value accepted from a server")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	if err := fs.Parse(args); err != nil {
		return moecache.Config{}, nil, err
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	v := viper.New()
	v.SetEnvPrefix("moecache")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if *configFile != "" {
		v.SetConfigFile(*configFile)
	} else {
		v.SetConfigName("moecache")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || *configFile != "" {
			return moecache.Config{}, nil, err
		}
	}
	for key, flag := range map[string]string{
		"servers":         "servers",
		"timeout":         "timeout",
		"connect_timeout": "connect-timeout",
		"routing":         "routing",
		"max_item_size":   "max-item-size",
	} {
		if err := v.BindPFlag(key, fs.Lookup(flag)); err != nil {
			return moecache.Config{}, nil, err
		}
	}

	var cfg moecache.Config
	if err := v.Unmarshal(&cfg); err != nil {
		return moecache.Config{}, nil, err
	}
	return cfg, fs.Args(), nil
}

func run(out io.Writer, c *moecache.Client, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("missing command")
	}
	switch cmd, rest := args[0], args[1:]; cmd {
	case "get":
		if len(rest) != 1 {
			return fmt.Errorf("get takes one key")
		}
		v, found, err := c.Get(rest[0])
		if err != nil {
			return err
		}
		if !found {
			fmt.Fprintln(out, "(not found)")
			return nil
		}
		if s, ok := v.Text(); ok {
			fmt.Fprintln(out, s)
		} else {
			fmt.Fprintf(out, "(%s, %d bytes)\n", v.Kind(), len(v.Bytes()))
		}
	case "set":
		if len(rest) < 2 || len(rest) > 3 {
			return fmt.Errorf("set takes a key, a value and an optional exptime")
		}
		exptime := 0
		if len(rest) == 3 {
			var err error
			if exptime, err = strconv.Atoi(rest[2]); err != nil {
				return fmt.Errorf("invalid exptime %q", rest[2])
			}
		}
		if err := c.SetText(rest[0], rest[1], exptime); err != nil {
			return err
		}
		fmt.Fprintln(out, "STORED")
	case "delete":
		if len(rest) != 1 {
			return fmt.Errorf("delete takes one key")
		}
		r, err := c.Delete(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(out, r)
	case "stats":
		all, err := c.Stats(rest...)
		if err != nil {
			return err
		}
		for i, t := range c.Endpoints() {
			fmt.Fprintf(out, "%s:%d\n", t.Address, t.Port)
			names := make([]string, 0, len(all[i]))
			for name := range all[i] {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %s %s\n", name, all[i][name])
			}
		}
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
	return nil
}

func main() {
	cfg, args, err := loadConfig(os.Args[1:])
	if err == pflag.ErrHelp {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	targets, err := cfg.Targets()
	if err != nil {
		log.Fatal(err)
	}
	opts, err := cfg.Options()
	if err != nil {
		log.Fatal(err)
	}
	c, err := moecache.New(targets, append(opts, moecache.WithLogger(log.StandardLogger()))...)
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	if err := run(os.Stdout, c, args); err != nil {
		log.WithField("command", strings.Join(args, " ")).Error(err)
		c.Close()
		os.Exit(1)
	}
}
