package main

import "flag"

func powerCmd(args []string, wake bool) {
	name := "sleep"
	if wake {
		name = "wake"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	df := addDeviceFlags(fs)
	fs.Parse(args)

	d := df.open()
	defer d.Close()

	if wake {
		if err := d.Flash.Wakeup(); err != nil {
			fatalf("flash wakeup failed: %v", err)
		}
		return
	}
	if err := d.Flash.Sleep(); err != nil {
		fatalf("flash sleep failed: %v", err)
	}
}
