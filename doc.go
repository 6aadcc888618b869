// Package spiflash drives SPI NAND/NOR flash chips organized as 256-byte
// pages with 4K/32K/64K erase blocks, such as the Atmel-Adesto AT25DF041A
// or Winbond W25X40CL. It frames the standard command set (write enable,
// page program, block erase, status polling, JEDEC ID, deep power-down)
// over a periph.io SPI connection with a manually driven chip-select line.
//
// NAND flash requires erase before write: programming can only clear bits,
// and only an erase command sets a 4K/32K/64K block (or the whole chip)
// back to all 1s.
//
// # References:
//
// SPI Flash
//   - [AT25DF041A]: Atmel-Adesto 4-megabit 2.3V SPI Serial Flash Memory (https://www.adestotech.com/sites/default/files/datasheets/doc3668.pdf)
//   - [W25X40CL]: Winbond 4M-bit Serial Flash Memory (https://www.winbond.com/resource-files/w25x40cl_f%2020140325.pdf)
//   - [W25Q64FV]: Winbond 64M-bit Serial Flash Memory (https://www.winbond.com/resource-files/w25q64fv%20revs%2007182017.pdf)
//
// Transport
//   - [FTDI-AN_108]: Command Processor for MPSSE and MCU Host Bus Emulation Modes (https://ftdichip.com/wp-content/uploads/2020/08/AN_108_Command_Processor_for_MPSSE_and_MCU_Host_Bus_Emulation_Modes.pdf)
package spiflash
